package extractor

import (
	"errors"
	"testing"
	"testing/iotest"

	"go-clipnest/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = "https://x.test/page"

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		html string
		want []models.ImageDescriptor
	}{
		{
			name: "relative src with alt",
			html: `<img src="/img/cat.png" alt="cat">`,
			want: []models.ImageDescriptor{{URL: "https://x.test/img/cat.png", Title: "cat"}},
		},
		{
			name: "title attribute fallback",
			html: `<img src="dog.JPG" title="a dog">`,
			want: []models.ImageDescriptor{{URL: "https://x.test/dog.JPG", Title: "a dog"}},
		},
		{
			name: "duplicates collapse to first in document order",
			html: `<img src="/a.png" alt="first"><img src="https://x.test/a.png" alt="second"><img src="b.gif"><img src="./a.png">`,
			want: []models.ImageDescriptor{
				{URL: "https://x.test/a.png", Title: "first"},
				{URL: "https://x.test/b.gif"},
			},
		},
		{
			name: "strict extension filter",
			html: `<img src="a.webp"><img src="b.svg"><img src="c.png?w=1"><img src=""><img alt="no src"><img src="d.jpeg">`,
			want: []models.ImageDescriptor{{URL: "https://x.test/d.jpeg"}},
		},
		{
			name: "absolute urls kept verbatim",
			html: `<p><img src="https://cdn.test/Z.GIF" alt=""></p>`,
			want: []models.ImageDescriptor{{URL: "https://cdn.test/Z.GIF"}},
		},
		{
			name: "empty document",
			html: `<html></html>`,
			want: []models.ImageDescriptor{},
		},
		{
			name: "empty input",
			html: ``,
			want: []models.ImageDescriptor{},
		},
		{
			name: "garbage still parses",
			html: `<<<>>> not really html </div></span>`,
			want: []models.ImageDescriptor{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.html, base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractThreeImagesTwoShareURL(t *testing.T) {
	html := `<html><body>
		<img src="/img/one.png" alt="one">
		<img src="/img/two.jpg" alt="two">
		<img src="https://x.test/img/one.png" alt="one again">
	</body></html>`

	got, err := Extract(html, base)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestExtractMalformedBase(t *testing.T) {
	got, err := Extract(`<img src="a.png"><img src="https://x.test/b.png" alt="b">`, "relative/base")
	require.NoError(t, err)
	assert.Equal(t, []models.ImageDescriptor{{URL: "https://x.test/b.png", Title: "b"}}, got,
		"absolute sources survive a bad base; relative ones are skipped")

	got, err = Extract(`<img src="https://x.test/a.png">`, "not a url")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://x.test/a.png", got[0].URL)
}

func TestExtractReaderFailure(t *testing.T) {
	_, err := New().ExtractReader(iotest.ErrReader(errors.New("connection reset")), base)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
}

func TestExtractorSwappablePredicate(t *testing.T) {
	e := New()
	e.Accept = func(src string) bool { return src != "" }

	got, err := e.Extract(`<img src="a.webp"><img src="b.svg">`, base)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestHasImageExtension(t *testing.T) {
	tests := map[string]bool{
		"a.jpg":        true,
		"a.JPEG":       true,
		" /p/a.png ":   true,
		"a.gif":        true,
		"a.png?x=1":    false,
		"a.webp":       false,
		"jpg":          false,
		"a.jpg.backup": false,
	}
	for src, want := range tests {
		assert.Equal(t, want, HasImageExtension(src), src)
	}
}
