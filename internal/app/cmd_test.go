package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/hitoshi/commentboard/internal/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand(io.Discard)

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "cleanup", "healthcheck", "board"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}

	board, _, err := root.Find([]string{"board"})
	require.NoError(t, err)
	boardNames := map[string]bool{}
	for _, c := range board.Commands() {
		boardNames[c.Name()] = true
	}
	for _, want := range []string{"show", "login", "post", "like", "reply", "delete", "logout"} {
		assert.True(t, boardNames[want], "missing board subcommand %q", want)
	}
}

func TestRun_DefaultIsServe(t *testing.T) {
	clearRequiredEnv(t)

	for _, args := range [][]string{nil, {"serve"}} {
		err := Run(io.Discard, args)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "initialization failed")
	}
}

func TestRun_MigrateAndCleanupRequireConfig(t *testing.T) {
	clearRequiredEnv(t)

	for _, name := range []string{"migrate", "cleanup"} {
		err := Run(io.Discard, []string{name})
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), "initialization failed")
	}
}

func TestRun_HealthcheckSkipsConfig(t *testing.T) {
	clearRequiredEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	t.Setenv("SERVER_PORT", u.Port())

	assert.NoError(t, Run(io.Discard, []string{"healthcheck"}))
}

// fakeBoardServer はboardコマンド用の最小限のAPIサーバー。
type fakeBoardServer struct {
	*httptest.Server

	mu     sync.Mutex
	posted []string
}

func (f *fakeBoardServer) Posted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.posted...)
}

func newFakeBoardServer(t *testing.T) *fakeBoardServer {
	t.Helper()
	f := &fakeBoardServer{}
	comments := []map[string]any{
		{"_id": "c1", "text": "hello", "likes": 0, "replies": []string{}, "userid": "u2", "username": "Bob", "createdAt": "2026-01-01T09:00:00Z"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/get-comments", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(comments)
	})
	mux.HandleFunc("GET /auth/current-user", func(w http.ResponseWriter, r *http.Request) {
		if ck, err := r.Cookie("session_id"); err == nil && ck.Value == "good" {
			w.Write([]byte(`{"id":"u1","name":"Alice","email":"alice@example.com","likedComments":[]}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":"UNAUTHENTICATED","message":"ログインが必要です"}`))
	})
	mux.HandleFunc("POST /api/add-comment", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Text string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.posted = append(f.posted, body.Text)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"_id": "c2", "text": body.Text, "likes": 0, "replies": []string{},
			"userid": "u1", "username": "Alice", "createdAt": "2026-01-02T10:30:00Z",
		})
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func runBoard(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"board"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBoardShow_Anonymous(t *testing.T) {
	srv := newFakeBoardServer(t)
	t.Setenv(envSession, "")

	out, err := runBoard(t, "show", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Not signed in")
	assert.Contains(t, out, "[c1] Bob - 2026-01-01 09:00")
	assert.NotContains(t, out, "[delete]")
}

func TestBoardPost_RequiresLogin(t *testing.T) {
	srv := newFakeBoardServer(t)
	t.Setenv(envSession, "")

	out, err := runBoard(t, "post", "hi", "--server", srv.URL)
	assert.ErrorIs(t, err, view.ErrNotAuthenticated)
	assert.Empty(t, srv.Posted())
	assert.Contains(t, out, "[c1]")
}

func TestBoardPost_WithSession(t *testing.T) {
	srv := newFakeBoardServer(t)

	out, err := runBoard(t, "post", "hello", "world", "--server", srv.URL, "--session", "good")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello world"}, srv.Posted())
	assert.Contains(t, out, "Signed in as Alice <alice@example.com>")
	assert.Contains(t, out, "[c2] Alice - 2026-01-02 10:30\n  hello world\n  likes: 0  [delete]")
}

func TestBoardPost_SessionFromEnv(t *testing.T) {
	srv := newFakeBoardServer(t)
	t.Setenv(envServerURL, srv.URL)
	t.Setenv(envSession, "good")

	_, err := runBoard(t, "post", "from env")
	require.NoError(t, err)
	assert.Equal(t, []string{"from env"}, srv.Posted())
}

func TestBoardLogin(t *testing.T) {
	srv := newFakeBoardServer(t)

	out, err := runBoard(t, "login", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, srv.URL+"/auth/login-start")

	out, err = runBoard(t, "login", "good", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as Alice")
	assert.Contains(t, out, "export COMMENTBOARD_SESSION=good")

	_, err = runBoard(t, "login", "forged", "--server", srv.URL)
	assert.Error(t, err)
}
