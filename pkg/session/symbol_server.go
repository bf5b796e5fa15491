package session

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/vsrinivas/fuchsia-debug/pkg/logflags"
	"github.com/vsrinivas/fuchsia-debug/pkg/mloop"
)

// DownloadFileType selects which artifact of a build a download wants.
type DownloadFileType int

const (
	// DownloadDebugInfo is the unstripped debug info file.
	DownloadDebugInfo DownloadFileType = iota
	// DownloadBinary is the stripped executable itself.
	DownloadBinary
)

func (t DownloadFileType) String() string {
	if t == DownloadBinary {
		return "binary"
	}
	return "debuginfo"
}

// SymbolServerState is the lifecycle of one symbol server.
type SymbolServerState int

const (
	// SymbolServerInitializing means the server has not been probed yet.
	SymbolServerInitializing SymbolServerState = iota
	// SymbolServerAuth means the server wants credentials before use.
	SymbolServerAuth
	// SymbolServerReady means the server answers fetches.
	SymbolServerReady
	// SymbolServerUnreachable means probing failed; the server is skipped.
	SymbolServerUnreachable
)

func (s SymbolServerState) String() string {
	switch s {
	case SymbolServerInitializing:
		return "initializing"
	case SymbolServerAuth:
		return "auth"
	case SymbolServerReady:
		return "ready"
	case SymbolServerUnreachable:
		return "unreachable"
	}
	return fmt.Sprintf("SymbolServerState(%d)", int(s))
}

// SymbolServer serves debug artifacts by build ID. Fetch callbacks are
// delivered on the loop goroutine.
type SymbolServer interface {
	Name() string
	State() SymbolServerState
	// Fetch retrieves the artifact into the local cache and reports its path.
	Fetch(buildID string, fileType DownloadFileType, cb func(path string, err error))
}

// httpSymbolServer fetches artifacts from a debuginfod-style HTTP server
// into a local cache directory. Network work runs on its own goroutine and
// results post back to the loop.
type httpSymbolServer struct {
	loop     *mloop.Loop
	log      logflags.Logger
	url      string
	cacheDir string
	state    SymbolServerState
	client   *http.Client
}

// NewHTTPSymbolServer creates a server backed by the given base URL.
// requireAuth servers start in the auth state and stay there until
// Authenticate succeeds; unauthenticated servers are ready immediately.
func NewHTTPSymbolServer(loop *mloop.Loop, url, cacheDir string, requireAuth bool) SymbolServer {
	state := SymbolServerReady
	if requireAuth {
		state = SymbolServerAuth
	}
	return &httpSymbolServer{
		loop:     loop,
		log:      logflags.SymbolizerLogger(),
		url:      url,
		cacheDir: cacheDir,
		state:    state,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *httpSymbolServer) Name() string             { return s.url }
func (s *httpSymbolServer) State() SymbolServerState { return s.state }

func (s *httpSymbolServer) Fetch(buildID string, fileType DownloadFileType, cb func(string, error)) {
	if s.state != SymbolServerReady {
		err := fmt.Errorf("symbol server %s is %s", s.url, s.state)
		s.loop.Post(func() { cb("", err) })
		return
	}
	url := fmt.Sprintf("%s/buildid/%s/%s", s.url, buildID, fileType)
	dest := filepath.Join(s.cacheDir, buildID, fileType.String())
	go func() {
		path, err := s.fetchToFile(url, dest)
		s.loop.Post(func() { cb(path, err) })
	}()
}

func (s *httpSymbolServer) fetchToFile(url, dest string) (string, error) {
	resp, err := s.client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: HTTP %d", url, resp.StatusCode)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".fetch-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return dest, nil
}
