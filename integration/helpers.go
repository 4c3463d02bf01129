//go:build integration

package integration

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// binaryPath builds the CLI once per test binary and returns its path
func binaryPath(t *testing.T) string {
	t.Helper()
	if built != "" {
		return built
	}

	dir, err := os.MkdirTemp("", "mr-automerge-bin")
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "mr-automerge")
	cmd := exec.Command("go", "build", "-o", out, "../cmd/mr-automerge")
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, output)
	}
	built = out
	return built
}

var built string

// TempConfigPath writes a config file for testing and returns its path
func TempConfigPath(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// result holds the outcome of one CLI invocation
type result struct {
	stdout   string
	stderr   string
	exitCode int
}

// runCLI runs the binary with env replacing the GitLab variables
func runCLI(t *testing.T, env map[string]string, args ...string) result {
	t.Helper()
	cmd := exec.Command(binaryPath(t), args...)
	cmd.Dir = t.TempDir()

	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "GITLAB_API_") {
			cmd.Env = append(cmd.Env, kv)
		}
	}
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if err != nil {
		t.Fatalf("running CLI: %v", err)
	}
	return result{stdout: stdout.String(), stderr: stderr.String(), exitCode: code}
}

// fakeGitLab serves group/project where every MR is approved and mr 5 is
// already merged while any other one is closed.
func fakeGitLab(t *testing.T) *httptest.Server {
	t.Helper()
	const project = "/api/v4/projects/group%2Fproject"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.EscapedPath()
		switch {
		case path == project:
			io.WriteString(w, `{"id": 1, "path_with_namespace": "group/project"}`)
		case strings.HasSuffix(path, "/approvals"):
			io.WriteString(w, `{"approved": true, "approved_by": [{"user": {"username": "bob"}}]}`)
		case path == project+"/merge_requests/5":
			io.WriteString(w, `{"iid": 5, "title": "Done already", "state": "merged"}`)
		case strings.HasPrefix(path, project+"/merge_requests/"):
			iid := strings.TrimPrefix(path, project+"/merge_requests/")
			fmt.Fprintf(w, `{"iid": %s, "title": "Abandoned", "state": "closed"}`, iid)
		default:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"message": "404 Not found"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}
