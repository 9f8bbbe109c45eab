// Package extractor finds collectable images in fetched HTML.
package extractor

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"go-clipnest/internal/models"
	"go-clipnest/internal/resolver"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
)

// ErrParse is returned when the input cannot be read as markup at all.
var ErrParse = errors.New("html parse error")

var imageExtPattern = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif)$`)

// HasImageExtension is the strict remote eligibility rule: the src must end
// in .jpg, .jpeg, .png or .gif, case-insensitively.
func HasImageExtension(src string) bool {
	return imageExtPattern.MatchString(strings.TrimSpace(src))
}

// Extractor turns HTML into deduplicated image descriptors.
type Extractor struct {
	Accept  func(src string) bool
	Resolve func(candidate, base string) (string, error)
}

// New returns an Extractor using the strict extension rule.
func New() *Extractor {
	return &Extractor{
		Accept:  HasImageExtension,
		Resolve: resolver.Resolve,
	}
}

// Extract parses html with the default Extractor.
func Extract(html, base string) ([]models.ImageDescriptor, error) {
	return New().Extract(html, base)
}

// Extract parses html and returns its eligible images in document order,
// each absolute URL at most once.
func (e *Extractor) Extract(html, base string) ([]models.ImageDescriptor, error) {
	return e.ExtractReader(strings.NewReader(html), base)
}

// ExtractReader is Extract for a streamed document.
func (e *Extractor) ExtractReader(r io.Reader, base string) ([]models.ImageDescriptor, error) {
	accept := e.Accept
	if accept == nil {
		accept = HasImageExtension
	}
	resolve := e.Resolve
	if resolve == nil {
		resolve = resolver.Resolve
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	descriptors := []models.ImageDescriptor{}
	seen := make(map[string]bool)

	doc.Find("img").Each(func(i int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" || !accept(src) {
			return
		}

		abs, err := resolve(src, base)
		if err != nil {
			log.WithError(err).Debugf("Skipping image %d with unresolvable src %q", i, src)
			return
		}
		if seen[abs] {
			return
		}
		seen[abs] = true

		descriptors = append(descriptors, models.ImageDescriptor{
			URL:   abs,
			Title: models.PickTitle(s.AttrOr("alt", ""), s.AttrOr("title", "")),
		})
	})

	log.Debugf("Extracted %d images from %s", len(descriptors), base)
	return descriptors, nil
}
