package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"go-clipnest/index"
	"go-clipnest/internal/models"
	"go-clipnest/internal/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// --- Test Setup ---

var (
	binaryName = "clipnest"
	binaryPath string
)

// TestMain builds the binary once for all tests in the package.
func TestMain(m *testing.M) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		fmt.Println("Could not get caller information")
		os.Exit(1)
	}

	buildDir, err := os.MkdirTemp("", "clipnest-it-")
	if err != nil {
		fmt.Printf("Failed to create build dir: %v\n", err)
		os.Exit(1)
	}
	if runtime.GOOS == "windows" {
		binaryName += ".exe"
	}
	binaryPath = filepath.Join(buildDir, binaryName)

	fmt.Println("Building binary for integration tests...")
	buildCmd := exec.Command("go", "build", "-o", binaryPath, ".")
	buildCmd.Dir = filepath.Dir(filename)
	if out, err := buildCmd.CombinedOutput(); err != nil {
		fmt.Printf("Failed to build binary: %v\nOutput:\n%s\n", err, string(out))
		os.Exit(1)
	}

	exitCode := m.Run()
	_ = os.RemoveAll(buildDir)
	os.Exit(exitCode)
}

// --- Helper Functions ---

type workspace struct {
	dir    string
	config string
	save   string
}

// newWorkspace writes a config pointing every path into a temp dir.
func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	ws := workspace{dir: dir, config: filepath.Join(dir, "config.toml"), save: filepath.Join(dir, "downloads")}
	content := fmt.Sprintf(`SavePath = %q
DatabasePath = %q
BleveIndexPath = %q
RelayTimeoutSec = 5
DownloadTimeoutSec = 5
NotificationMs = 50
`, ws.save, filepath.Join(dir, "clipnest.db"), filepath.Join(dir, "clipnest.bleve"))
	require.NoError(t, os.WriteFile(ws.config, []byte(content), 0644))
	return ws
}

// run executes the binary with the workspace config.
func (ws workspace) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := exec.Command(binaryPath, append([]string{"--config", ws.config}, args...)...)
	cmd.Dir = ws.dir
	cmd.Env = append(os.Environ(), "PORT=", "CLIPNEST_RELAY_URL=")

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		t.Logf("Command %v failed with error: %v\nStderr:\n%s", args, err, stderr.String())
	}
	return stdout.String(), stderr.String(), err
}

const pageHTML = `<html><body>
<img src="/img/cat.png" alt="cat">
<img src="img/dog.jpg" title="dog">
<img src="/img/cat.png" alt="cat again">
<img src="/img/diagram.svg">
</body></html>`

// newSite serves a page with three eligible images (two sharing a URL) and
// the image bytes themselves.
func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(pageHTML))
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>no pictures</p></body></html>`))
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("bytes-of-" + filepath.Base(r.URL.Path)))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newRelay(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(relay.New(relay.Options{}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

// --- Tests ---

func TestHarvestThroughRelayListsDistinctImages(t *testing.T) {
	ws := newWorkspace(t)
	site := newSite(t)
	rl := newRelay(t)

	stdout, _, err := ws.run(t, "harvest", site.URL+"/page", "--relay", rl.URL, "--format", "json")
	require.NoError(t, err)

	var items []models.ImageDescriptor
	require.NoError(t, json.Unmarshal([]byte(stdout), &items))
	require.Len(t, items, 2)
	assert.Equal(t, site.URL+"/img/cat.png", items[0].URL)
	assert.Equal(t, "cat", items[0].Title)
	assert.Equal(t, site.URL+"/img/dog.jpg", items[1].URL)
	assert.Equal(t, "dog", items[1].Title)
}

func TestHarvestNoImages(t *testing.T) {
	ws := newWorkspace(t)
	site := newSite(t)

	stdout, _, err := ws.run(t, "harvest", site.URL+"/empty", "--direct")
	require.NoError(t, err)
	assert.Contains(t, stdout, "no images found")
}

func TestHarvestUnreachableRelayFails(t *testing.T) {
	ws := newWorkspace(t)
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	_, stderr, err := ws.run(t, "harvest", "https://x.test/page", "--relay", deadURL)
	require.Error(t, err)
	assert.Contains(t, stderr, "Image collection failed")
}

func TestHarvestCollectThenList(t *testing.T) {
	ws := newWorkspace(t)
	site := newSite(t)
	rl := newRelay(t)

	_, _, err := ws.run(t, "harvest", site.URL+"/page", "--relay", rl.URL, "--collect")
	require.NoError(t, err)

	// A second harvest finds both images already collected; that is not a failure.
	_, _, err = ws.run(t, "harvest", site.URL+"/page", "--relay", rl.URL, "--collect")
	require.NoError(t, err)

	stdout, _, err := ws.run(t, "db", "list", "--format", "json")
	require.NoError(t, err)
	var records []models.ImageRecord
	require.NoError(t, json.Unmarshal([]byte(stdout), &records))
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, site.URL+"/page", rec.SourcePage)
	}

	stdout, _, err = ws.run(t, "db", "info")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Schema version: 2")
	assert.Contains(t, stdout, "Images:         2")

	stdout, _, err = ws.run(t, "search", "-q", "dog")
	require.NoError(t, err)
	assert.Contains(t, stdout, "dog.jpg")
}

func TestHarvestDirectDownload(t *testing.T) {
	ws := newWorkspace(t)
	site := newSite(t)

	_, _, err := ws.run(t, "harvest", site.URL+"/page", "--direct", "--download")
	require.NoError(t, err)

	var saved []string
	require.NoError(t, filepath.Walk(ws.save, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			saved = append(saved, filepath.Base(path))
		}
		return nil
	}))
	assert.ElementsMatch(t, []string{"cat.png", "dog.jpg"}, saved)

	// Downloads bypass the library entirely.
	stdout, _, err := ws.run(t, "db", "info")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Images:         0")
}

func TestCaptureCollectsOnceThenReportsDuplicate(t *testing.T) {
	ws := newWorkspace(t)

	stdout, _, err := ws.run(t, "capture", "--page", "https://x.test/page", "--src", "/img/cat.png", "--alt", "cat")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Image collected to ClipNest")
	assert.Contains(t, stdout, "https://x.test/img/cat.png")

	stdout, _, err = ws.run(t, "capture", "--page", "https://x.test/page", "--src", "https://x.test/img/cat.png")
	require.Error(t, err)
	assert.Contains(t, stdout, "Collect failed, please retry")
	assert.Contains(t, stdout, "image already collected")

	stdout, _, err = ws.run(t, "db", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Total: 1 image(s)")
}

func TestCaptureWhileSearchIndexIsHeld(t *testing.T) {
	ws := newWorkspace(t)
	held, err := index.OpenOrCreateIndex(filepath.Join(ws.dir, "clipnest.bleve"))
	require.NoError(t, err)
	defer held.Close()

	type result struct {
		stdout string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		stdout, _, err := ws.run(t, "capture", "--page", "https://x.test/page", "--src", "/img/cat.png")
		done <- result{stdout: stdout, err: err}
	}()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Contains(t, res.stdout, "Image collected to ClipNest")
	case <-time.After(30 * time.Second):
		t.Fatal("capture blocked on a search index held by another process")
	}
}

func TestCaptureRequiresFlags(t *testing.T) {
	ws := newWorkspace(t)
	_, _, err := ws.run(t, "capture", "--page", "https://x.test/")
	assert.Error(t, err)
}

func TestDbExportFormats(t *testing.T) {
	ws := newWorkspace(t)
	_, _, err := ws.run(t, "capture", "--page", "https://x.test/", "--src", "a.gif", "--title", "first")
	require.NoError(t, err)
	_, _, err = ws.run(t, "capture", "--page", "https://x.test/", "--src", "b.png")
	require.NoError(t, err)

	yamlOut := filepath.Join(ws.dir, "export", "images.yaml")
	_, _, err = ws.run(t, "db", "export", "--out", yamlOut)
	require.NoError(t, err)
	data, err := os.ReadFile(yamlOut)
	require.NoError(t, err)
	var records []models.ImageRecord
	require.NoError(t, yaml.Unmarshal(data, &records))
	require.Len(t, records, 2)
	assert.Equal(t, "https://x.test/a.gif", records[0].URL)
	assert.Equal(t, "first", records[0].Title)

	parquetOut := filepath.Join(ws.dir, "images.parquet")
	_, _, err = ws.run(t, "db", "export", "--out", parquetOut)
	require.NoError(t, err)
	data, err = os.ReadFile(parquetOut)
	require.NoError(t, err)
	require.True(t, len(data) > 8)
	assert.Equal(t, "PAR1", string(data[:4]))

	_, _, err = ws.run(t, "db", "export", "--out", filepath.Join(ws.dir, "x.out"), "--format", "xml")
	assert.Error(t, err)
}

func TestClean(t *testing.T) {
	ws := newWorkspace(t)
	nested := filepath.Join(ws.save, "x-test")
	require.NoError(t, os.MkdirAll(nested, 0700))
	tmp := filepath.Join(nested, "cat.png.123.tmp")
	keep := filepath.Join(nested, "cat.png")
	require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0600))
	require.NoError(t, os.WriteFile(keep, []byte("done"), 0600))

	_, _, err := ws.run(t, "clean", "--dry-run")
	require.NoError(t, err)
	assert.FileExists(t, tmp)

	_, _, err = ws.run(t, "clean")
	require.NoError(t, err)
	assert.NoFileExists(t, tmp)
	assert.FileExists(t, keep)
}

func TestInvalidConfigIsFatal(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.WriteFile(ws.config, []byte("RelayTimeoutSec = -1\n"), 0644))

	_, _, err := ws.run(t, "db", "info")
	assert.Error(t, err)
}
