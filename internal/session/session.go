// Package session runs a remote harvest: fetch a page, list its images and
// let each one be downloaded or collected on its own.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go-clipnest/internal/capture"
	"go-clipnest/internal/database"
	"go-clipnest/internal/downloader"
	"go-clipnest/internal/extractor"
	"go-clipnest/internal/models"

	log "github.com/sirupsen/logrus"
)

// Session messages shown in place of results.
const (
	MsgNoImages    = "no images found"
	MsgFetchFailed = "Image collection failed, make sure the address is correct and reachable"
)

// Session errors
var (
	ErrSuperseded     = errors.New("submission superseded by a newer one")
	ErrActionInFlight = errors.New("an action for this item is already in flight")
	ErrUnknownItem    = errors.New("item is not part of the current results")
	ErrClosed         = errors.New("session closed")
)

// Phase is where a session is in its fetch cycle.
type Phase int

// Session phases, in the order a submission moves through them.
const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFetching:
		return "fetching"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Snapshot is the observable state of a session.
type Snapshot struct {
	Phase   Phase
	PageURL string
	Items   []models.ImageDescriptor
	Message string
	Err     error
	Pending map[string]bool
}

// ExtractFunc turns fetched HTML into descriptors resolved against base.
type ExtractFunc func(html, base string) ([]models.ImageDescriptor, error)

// Saver stores an image on disk.
type Saver interface {
	SaveImage(ctx context.Context, imageURL, dir string) (string, error)
}

// Option configures a Session.
type Option func(*Session)

// WithStore enables the collect action.
func WithStore(store capture.Recorder) Option {
	return func(s *Session) { s.store = store }
}

// WithNotifier reports collect outcomes.
func WithNotifier(n capture.Notifier) Option {
	return func(s *Session) { s.notes = n }
}

// WithSaver replaces the downloader used by the download action.
func WithSaver(saver Saver) Option {
	return func(s *Session) { s.saver = saver }
}

// WithExtractor replaces the HTML image extractor.
func WithExtractor(fn ExtractFunc) Option {
	return func(s *Session) { s.extract = fn }
}

// Session is one harvest view. Submissions are generation-numbered; only the
// latest one may publish its results.
type Session struct {
	fetcher PageFetcher
	extract ExtractFunc
	saver   Saver
	store   capture.Recorder
	notes   capture.Notifier

	mu      sync.Mutex
	gen     uint64
	phase   Phase
	page    string
	items   []models.ImageDescriptor
	index   map[string]models.ImageDescriptor
	message string
	err     error
	status  *CaptureStatus
	closed  bool
}

// New returns an idle Session fetching pages through fetcher.
func New(fetcher PageFetcher, opts ...Option) *Session {
	s := &Session{
		fetcher: fetcher,
		extract: extractor.Extract,
		status:  newCaptureStatus(),
		index:   map[string]models.ImageDescriptor{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.saver == nil {
		s.saver = downloader.NewDownloader(nil, "")
	}
	return s
}

// Submit starts a new harvest of pageURL, discarding earlier results and
// item status. If another Submit starts before this one finishes, this one
// returns ErrSuperseded and publishes nothing.
func (s *Session) Submit(ctx context.Context, pageURL string) (Snapshot, error) {
	pageURL = strings.TrimSpace(pageURL)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	s.gen++
	gen := s.gen
	s.phase = PhaseFetching
	s.page = pageURL
	s.items = nil
	s.index = map[string]models.ImageDescriptor{}
	s.message = ""
	s.err = nil
	s.status = newCaptureStatus()
	s.mu.Unlock()

	log.Debugf("Session submission %d: fetching %s", gen, pageURL)
	items, err := s.harvest(ctx, pageURL)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Snapshot{}, ErrClosed
	}
	if gen != s.gen {
		log.Debugf("Discarding result of superseded submission %d for %s", gen, pageURL)
		return Snapshot{}, ErrSuperseded
	}

	if err != nil {
		s.phase = PhaseFailed
		s.message = MsgFetchFailed
		s.err = err
		log.WithError(err).Warnf("Harvest of %s failed", pageURL)
		return s.snapshotLocked(), err
	}

	s.phase = PhaseSucceeded
	s.items = items
	for _, item := range items {
		s.index[item.URL] = item
	}
	if len(items) == 0 {
		s.message = MsgNoImages
	}
	return s.snapshotLocked(), nil
}

func (s *Session) harvest(ctx context.Context, pageURL string) ([]models.ImageDescriptor, error) {
	html, err := s.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return s.extract(html, pageURL)
}

// Snapshot returns the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	items := make([]models.ImageDescriptor, len(s.items))
	copy(items, s.items)
	return Snapshot{
		Phase:   s.phase,
		PageURL: s.page,
		Items:   items,
		Message: s.message,
		Err:     s.err,
		Pending: s.status.pending(),
	}
}

// InFlight reports whether imageURL has an action pending.
func (s *Session) InFlight(imageURL string) bool {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	return status.InFlight(imageURL)
}

// begin validates imageURL against the current results and marks it busy.
func (s *Session) begin(imageURL string) (models.ImageDescriptor, string, *CaptureStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ImageDescriptor{}, "", nil, ErrClosed
	}
	item, ok := s.index[imageURL]
	if !ok {
		return models.ImageDescriptor{}, "", nil, fmt.Errorf("%w: %s", ErrUnknownItem, imageURL)
	}
	if !s.status.begin(imageURL) {
		return models.ImageDescriptor{}, "", nil, fmt.Errorf("%w: %s", ErrActionInFlight, imageURL)
	}
	return item, s.page, s.status, nil
}

// Download saves one listed image into dir. It never touches the store.
func (s *Session) Download(ctx context.Context, imageURL, dir string) (string, error) {
	item, _, status, err := s.begin(imageURL)
	if err != nil {
		return "", err
	}
	defer status.end(item.URL)

	path, err := s.saver.SaveImage(ctx, item.URL, dir)
	if err != nil {
		log.WithError(err).Warnf("Download of %s failed", item.URL)
		return "", err
	}
	return path, nil
}

// Collect records one listed image in the store, with the submitted page as
// its source.
func (s *Session) Collect(ctx context.Context, imageURL string) (models.ImageRecord, error) {
	item, page, status, err := s.begin(imageURL)
	if err != nil {
		return models.ImageRecord{}, err
	}
	defer status.end(item.URL)

	if s.store == nil {
		err := fmt.Errorf("%w: no store configured", database.ErrStorageUnavailable)
		s.notifyFailure(err)
		return models.ImageRecord{}, err
	}

	rec, err := s.store.Insert(ctx, item, page)
	if err != nil {
		s.notifyFailure(err)
		return models.ImageRecord{}, err
	}
	if s.notes != nil {
		s.notes.Success(capture.MsgCollected)
	}
	return rec, nil
}

func (s *Session) notifyFailure(err error) {
	log.WithError(err).Debug("Collect failed")
	if s.notes != nil {
		s.notes.Failure(capture.MsgCollectFailed, capture.Reason(err))
	}
}

// Close discards results and item status. Later calls return ErrClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.gen++
	s.phase = PhaseIdle
	s.items = nil
	s.index = map[string]models.ImageDescriptor{}
	s.status = newCaptureStatus()
}
