// Package scanner tracks which image under the pointer is eligible for
// capture and where the single capture affordance sits.
package scanner

import (
	"path"
	"strings"
	"sync"
)

// Rect is an element's bounding box in viewport coordinates.
type Rect struct {
	Left, Top, Right, Bottom float64
}

// Point is a viewport position.
type Point struct {
	X, Y float64
}

// Size is a width/height pair. A zero Size means unknown.
type Size struct {
	Width, Height float64
}

// Element is the part of a page element the scanner cares about.
type Element struct {
	Tag        string // lower or upper case tag name, e.g. "img"
	Src        string
	Alt        string
	Title      string
	Rect       Rect
	Affordance bool // true for the capture affordance itself
}

// IsImage reports whether e is an image element.
func (e *Element) IsImage() bool {
	return e != nil && strings.EqualFold(e.Tag, "img")
}

// PointerEvent is one pointer-move notification.
type PointerEvent struct {
	Target   *Element
	Viewport Size
}

// Predicate decides whether an image element is a capture candidate.
type Predicate func(*Element) bool

// NonEmptySource accepts any image with a non-blank src.
func NonEmptySource(e *Element) bool {
	return e != nil && strings.TrimSpace(e.Src) != ""
}

// WithExtensions accepts images whose src path ends in one of exts
// (case-insensitive, with or without the leading dot).
func WithExtensions(exts ...string) Predicate {
	allowed := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}
	return func(e *Element) bool {
		if !NonEmptySource(e) {
			return false
		}
		src := strings.TrimSpace(e.Src)
		if i := strings.IndexAny(src, "?#"); i >= 0 {
			src = src[:i]
		}
		return allowed[strings.ToLower(path.Ext(src))]
	}
}

// State is the scanner's observable state: the current candidate, whether
// the affordance is shown, and where. It is shared with the capture controller.
type State struct {
	mu        sync.RWMutex
	candidate *Element
	visible   bool
	position  Point
}

// NewState returns an empty state with the affordance hidden.
func NewState() *State {
	return &State{}
}

// Candidate returns the current candidate, or nil.
func (s *State) Candidate() *Element {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.candidate
}

// Visible reports whether the affordance is shown.
func (s *State) Visible() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visible
}

// Position returns the affordance's top-left corner.
func (s *State) Position() Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position
}

func (s *State) show(candidate *Element, at Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidate = candidate
	s.position = at
	s.visible = true
}

func (s *State) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidate = nil
	s.visible = false
}

// Geometry describes the affordance's size and its inset from the image corner.
type Geometry struct {
	Width, Height float64
	Margin        float64
}

// DefaultGeometry matches a small button inset 10px from the top-right corner.
var DefaultGeometry = Geometry{Width: 120, Height: 32, Margin: 10}

// Option configures a Scanner.
type Option func(*Scanner)

// WithPredicate swaps the eligibility rule.
func WithPredicate(p Predicate) Option {
	return func(s *Scanner) {
		if p != nil {
			s.isValidImage = p
		}
	}
}

// WithGeometry overrides the affordance geometry.
func WithGeometry(g Geometry) Option {
	return func(s *Scanner) { s.geometry = g }
}

// Scanner turns pointer moves into State updates.
type Scanner struct {
	state        *State
	isValidImage Predicate
	geometry     Geometry
}

// New returns a Scanner writing into state.
func New(state *State, opts ...Option) *Scanner {
	s := &Scanner{
		state:        state,
		isValidImage: NonEmptySource,
		geometry:     DefaultGeometry,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the state the scanner writes into.
func (s *Scanner) State() *State {
	return s.state
}

// PointerMove processes one pointer-move event.
func (s *Scanner) PointerMove(ev PointerEvent) {
	target := ev.Target
	switch {
	case target.IsImage() && s.isValidImage(target):
		s.state.show(target, s.place(target.Rect, ev.Viewport))
	case target != nil && target.Affordance:
		// Moving onto the affordance keeps the current candidate.
	default:
		s.state.clear()
	}
}

// place anchors the affordance to the top-right corner of r, inset by the
// margin, and clamps it inside the viewport.
func (s *Scanner) place(r Rect, viewport Size) Point {
	g := s.geometry
	p := Point{
		X: r.Right - g.Width - g.Margin,
		Y: r.Top + g.Margin,
	}
	if viewport.Width > 0 {
		p.X = clamp(p.X, 0, viewport.Width-g.Width)
	}
	if viewport.Height > 0 {
		p.Y = clamp(p.Y, 0, viewport.Height-g.Height)
	}
	if p.X < 0 {
		p.X = 0
	}
	if p.Y < 0 {
		p.Y = 0
	}
	return p
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
