package github

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
)

// recorded is one request seen by the fake GitHub.
type recorded struct {
	Method string
	Path   string
	Header http.Header
	Body   map[string]any
}

// fakeGitHub is an in-memory GitHub serving the repository, contents and
// issues endpoints for acme/app. It records every request.
type fakeGitHub struct {
	t   *testing.T
	srv *httptest.Server

	mu            sync.Mutex
	reqs          []recorded
	repoStatus    int
	repo          map[string]any
	dirs          map[string]bool
	files         map[string]bool
	putStatus     map[string]int
	noDownloadURL bool
	issueStatus   int
	issues        int
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{
		t:         t,
		repo:      map[string]any{"full_name": "acme/app", "default_branch": "develop", "has_issues": true},
		dirs:      map[string]bool{},
		files:     map[string]bool{},
		putStatus: map[string]int{},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGitHub) client(opts ...ClientOption) *Client {
	return NewClient(append([]ClientOption{WithBaseURL(f.srv.URL), WithRawBaseURL("https://raw.test")}, opts...)...)
}

func (f *fakeGitHub) requests() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.reqs...)
}

func (f *fakeGitHub) count(method string) int {
	n := 0
	for _, r := range f.requests() {
		if r.Method == method {
			n++
		}
	}
	return n
}

func (f *fakeGitHub) lastIssue() map[string]any {
	reqs := f.requests()
	for i := len(reqs) - 1; i >= 0; i-- {
		if reqs[i].Method == http.MethodPost && strings.HasSuffix(reqs[i].Path, "/issues") {
			return reqs[i].Body
		}
	}
	f.t.Fatal("no issue was posted")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (f *fakeGitHub) serve(w http.ResponseWriter, r *http.Request) {
	rec := recorded{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone()}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		if err := json.Unmarshal(data, &rec.Body); err != nil {
			f.t.Errorf("request body is not JSON: %v", err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, rec)

	const repoPrefix = "/repos/acme/app"
	p := r.URL.Path
	switch {
	case r.Method == http.MethodGet && p == repoPrefix:
		if f.repoStatus != 0 && f.repoStatus != http.StatusOK {
			writeJSON(w, f.repoStatus, map[string]string{"message": http.StatusText(f.repoStatus)})
			return
		}
		writeJSON(w, http.StatusOK, f.repo)

	case r.Method == http.MethodGet && strings.HasPrefix(p, repoPrefix+"/contents/"):
		cp := strings.TrimPrefix(p, repoPrefix+"/contents/")
		switch {
		case f.dirs[cp]:
			writeJSON(w, http.StatusOK, []map[string]any{{"type": "file", "name": ".gitkeep", "path": cp + "/.gitkeep"}})
		case f.files[cp]:
			writeJSON(w, http.StatusOK, map[string]any{"type": "file", "name": path.Base(cp), "path": cp})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		}

	case r.Method == http.MethodPut && strings.HasPrefix(p, repoPrefix+"/contents/"):
		cp := strings.TrimPrefix(p, repoPrefix+"/contents/")
		for prefix, status := range f.putStatus {
			if strings.HasPrefix(cp, prefix) {
				writeJSON(w, status, map[string]string{"message": "upstream says " + http.StatusText(status)})
				return
			}
		}
		f.files[cp] = true
		f.dirs[path.Dir(cp)] = true
		content := map[string]any{"type": "file", "path": cp, "name": path.Base(cp)}
		if !f.noDownloadURL {
			content["download_url"] = "https://dl.test/" + cp
			content["html_url"] = "https://github.test/acme/app/blob/" + cp
		}
		writeJSON(w, http.StatusCreated, map[string]any{"content": content})

	case r.Method == http.MethodPost && p == repoPrefix+"/issues":
		if f.issueStatus != 0 {
			writeJSON(w, f.issueStatus, map[string]string{"message": "issue says " + http.StatusText(f.issueStatus)})
			return
		}
		f.issues++
		writeJSON(w, http.StatusCreated, map[string]any{
			"number":   41 + f.issues,
			"html_url": fmt.Sprintf("https://github.test/acme/app/issues/%d", 41+f.issues),
		})

	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
	}
}
