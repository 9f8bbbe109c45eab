// Package capture drives the hovered candidate image into the collection.
package capture

import (
	"context"
	"errors"
	"fmt"

	"go-clipnest/internal/database"
	"go-clipnest/internal/models"
	"go-clipnest/internal/notify"
	"go-clipnest/internal/resolver"
	"go-clipnest/internal/scanner"

	log "github.com/sirupsen/logrus"
)

// Notification messages shown after a capture.
const (
	MsgCollected     = "Image collected to ClipNest"
	MsgCollectFailed = "Collect failed, please retry"
)

// Recorder persists collected images.
type Recorder interface {
	Insert(ctx context.Context, desc models.ImageDescriptor, sourcePage string) (models.ImageRecord, error)
}

// Notifier shows transient outcome notifications.
type Notifier interface {
	Success(message string) notify.Notification
	Failure(message, reason string) notify.Notification
}

// ResolveFunc resolves a reference against a page URL.
type ResolveFunc func(candidate, base string) (string, error)

// Controller binds the capture action to the scanner's current candidate.
// Activations are independent; the store's unique url index is what keeps
// racing captures of the same image from both succeeding.
type Controller struct {
	state   *scanner.State
	store   Recorder
	notes   Notifier
	resolve ResolveFunc
}

// NewController returns a Controller reading candidates from state.
func NewController(state *scanner.State, store Recorder, notes Notifier) *Controller {
	return &Controller{
		state:   state,
		store:   store,
		notes:   notes,
		resolve: resolver.Resolve,
	}
}

// WithResolver swaps the URL resolver.
func (c *Controller) WithResolver(fn ResolveFunc) *Controller {
	c.resolve = fn
	return c
}

// DescriptorFor extracts the descriptor for el as seen on pageURL.
func DescriptorFor(el *scanner.Element, pageURL string, resolve ResolveFunc) (models.ImageDescriptor, error) {
	if resolve == nil {
		resolve = resolver.Resolve
	}
	abs, err := resolve(el.Src, pageURL)
	if err != nil {
		return models.ImageDescriptor{}, err
	}
	return models.ImageDescriptor{URL: abs, Title: models.PickTitle(el.Alt, el.Title)}, nil
}

// Activate captures the current candidate. With no candidate it does nothing
// and returns (nil, nil). Every failure is reported through a notification
// as well as the returned error.
func (c *Controller) Activate(ctx context.Context, pageURL string) (*models.ImageRecord, error) {
	candidate := c.state.Candidate()
	if candidate == nil {
		return nil, nil
	}

	desc, err := DescriptorFor(candidate, pageURL, c.resolve)
	if err != nil {
		c.fail(err)
		return nil, err
	}

	rec, err := c.store.Insert(ctx, desc, pageURL)
	if err != nil {
		c.fail(err)
		return nil, err
	}

	c.notes.Success(MsgCollected)
	return &rec, nil
}

func (c *Controller) fail(err error) {
	reason := Reason(err)
	log.WithError(err).Debugf("Capture failed: %s", reason)
	c.notes.Failure(MsgCollectFailed, reason)
}

// Reason maps a capture error to a short human-readable reason.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, database.ErrDuplicateURL):
		return "image already collected"
	case errors.Is(err, resolver.ErrMalformedURL):
		return "image address is not a valid url"
	case errors.Is(err, database.ErrStorageUnavailable):
		return "local collection is unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "capture was cancelled"
	default:
		return fmt.Sprintf("unexpected error: %v", err)
	}
}
