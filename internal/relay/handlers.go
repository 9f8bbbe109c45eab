// Package relay fetches third-party pages on behalf of callers that cannot
// read them cross-origin, and offers a client for talking to such a relay.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Relay defaults used when Options leaves a field zero.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 20 << 20
)

// Options configure a Relay. Zero values fall back to the defaults.
type Options struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgents   []string
	Transport    http.RoundTripper
	Metrics      *Metrics
}

// Relay performs the upstream GET for a relay request.
type Relay struct {
	client  *http.Client
	agents  *AgentPool
	maxBody int64
	metrics *Metrics
}

// New builds a Relay from opts.
func New(opts Options) *Relay {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Relay{
		client:  &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
		agents:  NewAgentPool(opts.UserAgents),
		maxBody: opts.MaxBodyBytes,
		metrics: opts.Metrics,
	}
}

// Metrics returns the relay's collectors, possibly nil.
func (rl *Relay) Metrics() *Metrics {
	return rl.metrics
}

// Fetch retrieves target with a browser identity and returns the full body
// and its content type. Any non-2xx answer is an UpstreamError.
func (rl *Relay) Fetch(ctx context.Context, target string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", &UpstreamError{Kind: KindRequest, URL: target, Err: err}
	}
	req.Header.Set("User-Agent", rl.agents.Pick())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := rl.client.Do(req)
	rl.metrics.ObserveUpstream(time.Since(start))
	if err != nil {
		return nil, "", classify(target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", &UpstreamError{Kind: KindStatus, URL: target, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, rl.maxBody+1))
	if err != nil {
		up := classify(target, err)
		if up.Kind != KindTimeout {
			up.Kind = KindBody
		}
		return nil, "", up
	}
	if int64(len(body)) > rl.maxBody {
		return nil, "", &UpstreamError{Kind: KindBody, URL: target, Err: fmt.Errorf("body exceeds %d bytes", rl.maxBody)}
	}
	return body, resp.Header.Get("Content-Type"), nil
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// handleRelay serves GET /relay?url=<target> (and its /proxy alias).
func (rl *Relay) handleRelay(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("url"))
	if target == "" {
		rl.metrics.IncRequest("error")
		rl.metrics.IncError(errorTypeLabel(ErrMissingParameter))
		respondWithError(w, http.StatusBadRequest, errorBody{Error: ErrMissingParameter.Error()})
		return
	}

	body, contentType, err := rl.Fetch(r.Context(), target)
	if err != nil {
		log.WithError(err).WithField("url", target).Warn("Relay fetch failed")
		rl.metrics.IncRequest("error")
		rl.metrics.IncError(errorTypeLabel(err))
		respondWithError(w, http.StatusInternalServerError, errorBody{
			Error:   ErrUpstreamFetch.Error(),
			Message: upstreamDetail(err),
		})
		return
	}

	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.WithError(err).Debug("Relay caller went away mid-response")
	}
	rl.metrics.IncRequest("ok")
	rl.metrics.AddBytes(len(body))
}

func upstreamDetail(err error) string {
	var up *UpstreamError
	if errors.As(err, &up) {
		return up.Error()
	}
	return err.Error()
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondWithError(w http.ResponseWriter, code int, body errorBody) {
	respondWithJSON(w, code, body)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).Error("Failed to encode relay response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
