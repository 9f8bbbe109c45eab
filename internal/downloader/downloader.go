package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go-clipnest/internal/helpers"

	log "github.com/sirupsen/logrus"
)

// Custom Downloader Errors
var (
	ErrHttpStatus  = errors.New("unexpected HTTP status code")
	ErrFileSystem  = errors.New("filesystem error") // Covers create, remove, rename
	ErrHttpRequest = errors.New("HTTP request creation/execution error")
)

// DefaultFilename is used when a URL has no usable last path segment.
const DefaultFilename = "image"

// ProgressFunc receives the bytes written so far and the expected total (0 if unknown).
type ProgressFunc func(written, total uint64)

// Downloader saves remote images to disk.
type Downloader struct {
	client    *http.Client
	userAgent string
}

// NewDownloader creates a new Downloader instance.
func NewDownloader(client *http.Client, userAgent string) *Downloader {
	if client == nil {
		client = &http.Client{
			Timeout: 2 * time.Minute,
		}
	}
	return &Downloader{
		client:    client,
		userAgent: userAgent,
	}
}

// SuggestedFilename is the last non-empty path segment of imageURL,
// percent-decoded, or DefaultFilename.
func SuggestedFilename(imageURL string) string {
	u, err := url.Parse(strings.TrimSpace(imageURL))
	if err != nil {
		return DefaultFilename
	}
	p := strings.TrimRight(u.Path, "/")
	if p == "" {
		return DefaultFilename
	}
	name := path.Base(p)
	name = strings.ReplaceAll(name, `\`, "_")
	if name == "." || name == ".." || name == "/" || strings.TrimSpace(name) == "" {
		return DefaultFilename
	}
	return name
}

// SaveImage downloads imageURL into dir under its suggested filename and
// returns the final path. An existing file is never overwritten; a "-N"
// suffix is added instead.
func (d *Downloader) SaveImage(ctx context.Context, imageURL, dir string) (string, error) {
	return d.SaveImageWithProgress(ctx, imageURL, dir, nil)
}

// SaveImageWithProgress is SaveImage reporting progress to fn.
func (d *Downloader) SaveImageWithProgress(ctx context.Context, imageURL, dir string, fn ProgressFunc) (string, error) {
	if !helpers.CheckAndMakeDir(dir) {
		return "", fmt.Errorf("%w: failed to create target directory %s", ErrFileSystem, dir)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: creating download request for %s: %w", ErrHttpRequest, imageURL, err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		log.WithError(err).Debugf("Error performing download request from %s", imageURL)
		return "", fmt.Errorf("%w: performing request for %s: %v", ErrHttpRequest, imageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: received status %d from %s", ErrHttpStatus, resp.StatusCode, imageURL)
	}

	name := SuggestedFilename(imageURL)
	tempFile, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: creating temporary file for %s: %w", ErrFileSystem, name, err)
	}
	shouldCleanupTemp := true
	defer func() {
		if shouldCleanupTemp {
			_ = tempFile.Close()
			if removeErr := os.Remove(tempFile.Name()); removeErr != nil && !os.IsNotExist(removeErr) {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s during cleanup", tempFile.Name())
			}
		}
	}()

	size, _ := strconv.ParseUint(resp.Header.Get("Content-Length"), 10, 64)
	counter := &helpers.CounterWriter{Writer: tempFile}
	var sink io.Writer = counter
	if fn != nil {
		sink = &progressWriter{counter: counter, total: size, fn: fn}
	}

	log.Debugf("Downloading %s to %s (Size: %s)", imageURL, tempFile.Name(), helpers.BytesToSize(size))
	if _, err := io.Copy(sink, resp.Body); err != nil {
		return "", fmt.Errorf("%w: writing temporary file %s: %v", ErrFileSystem, tempFile.Name(), err)
	}
	if err := tempFile.Close(); err != nil {
		return "", fmt.Errorf("%w: closing temp file %s: %w", ErrFileSystem, tempFile.Name(), err)
	}

	finalPath, err := reservePath(dir, name)
	if err != nil {
		return "", err
	}
	if err := os.Rename(tempFile.Name(), finalPath); err != nil {
		_ = os.Remove(finalPath)
		return "", fmt.Errorf("%w: renaming temporary file %s to %s: %v", ErrFileSystem, tempFile.Name(), finalPath, err)
	}
	shouldCleanupTemp = false

	log.Infof("Saved %s (%s) to %s", imageURL, helpers.BytesToSize(counter.Total), finalPath)
	return finalPath, nil
}

// reservePath claims the first free name among name, name-1, name-2, ... by
// creating it exclusively, so concurrent saves never pick the same file.
func reservePath(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < 10000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		p := filepath.Join(dir, candidate)
		f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_ = f.Close()
			return p, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("%w: reserving %s: %v", ErrFileSystem, p, err)
		}
	}
	return "", fmt.Errorf("%w: no free filename for %s in %s", ErrFileSystem, name, dir)
}

type progressWriter struct {
	counter *helpers.CounterWriter
	total   uint64
	fn      ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.counter.Write(b)
	p.fn(p.counter.Total, p.total)
	return n, err
}
