package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const shutdownGrace = 5 * time.Second

// Server holds the HTTP server in front of a Relay.
type Server struct {
	addr       string
	relay      *Relay
	httpServer *http.Server
}

// NewServer prepares a server for relay on addr ("host:port").
func NewServer(addr string, relay *Relay) *Server {
	return &Server{
		addr:  addr,
		relay: relay,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           relay.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      relay.client.Timeout + 10*time.Second,
		},
	}
}

// Start blocks serving requests until the server is shut down.
func (s *Server) Start() error {
	log.Infof("Relay listening on http://%s", displayAddr(s.addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("Shutting down relay...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

func displayAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host != "" {
		return addr
	}
	return net.JoinHostPort("localhost", port)
}
