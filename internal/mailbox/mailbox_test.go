package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"relay-gateway-go/internal/config"
)

// jsonStore mimics a document store exposing {root}.json and {root}/{key}.json.
type jsonStore struct {
	mu     sync.Mutex
	values map[string]json.RawMessage
	auth   []string
}

func newJSONStore() *jsonStore {
	return &jsonStore{values: make(map[string]json.RawMessage)}
}

func (s *jsonStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = append(s.auth, r.URL.Query().Get("auth"))

	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/box"), ".json")
	key := strings.TrimPrefix(path, "/")

	switch r.Method {
	case http.MethodGet:
		v, ok := s.values[key]
		if !ok {
			_, _ = w.Write([]byte("null"))
			return
		}
		_, _ = w.Write(v)
	case http.MethodPut:
		var v json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.values[key] = v
		_, _ = w.Write(v)
	case http.MethodPatch:
		if key != "" {
			http.Error(w, "patch at root only", http.StatusBadRequest)
			return
		}
		var m map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for k, v := range m {
			if string(v) == "null" {
				delete(s.values, k)
				continue
			}
			s.values[k] = v
		}
		_, _ = w.Write([]byte("{}"))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *jsonStore) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return string(v), ok
}

func (s *jsonStore) authSeen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auth...)
}

func newTestClient(t *testing.T, store http.Handler, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(store)
	t.Cleanup(srv.Close)
	cfg := &config.Config{Mailbox: config.MailboxConfig{
		BaseURL:        srv.URL + "/box/",
		AuthToken:      token,
		TimeoutSeconds: 5,
	}}
	return NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClient_WriteReadClear(t *testing.T) {
	store := newJSONStore()
	c := newTestClient(t, store, "")
	ctx := context.Background()

	if _, ok, err := c.Read(ctx, "abc"); err != nil || ok {
		t.Fatalf("Read() on empty slot = ok %v, err %v; want false, nil", ok, err)
	}

	if err := c.Write(ctx, "abc", "aGVsbG8="); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got, _ := store.get("abc"); got != `"aGVsbG8="` {
		t.Errorf("stored = %s, want %s", got, `"aGVsbG8="`)
	}

	v, ok, err := c.Read(ctx, "abc")
	if err != nil || !ok {
		t.Fatalf("Read() = ok %v, err %v", ok, err)
	}
	if v != "aGVsbG8=" {
		t.Errorf("Read() = %q, want %q", v, "aGVsbG8=")
	}

	if err := c.Clear(ctx, "abc"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, ok, _ := c.Read(ctx, "abc"); ok {
		t.Error("slot still occupied after Clear()")
	}
}

func TestClient_PatchMultipleKeys(t *testing.T) {
	store := newJSONStore()
	c := newTestClient(t, store, "")
	ctx := context.Background()

	_ = c.Write(ctx, "a", "x")
	if err := c.Patch(ctx, map[string]any{"a": nil, "b": "y"}); err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if _, ok := store.get("a"); ok {
		t.Error("key a not cleared")
	}
	if got, _ := store.get("b"); got != `"y"` {
		t.Errorf("b = %s, want %q", got, `"y"`)
	}
}

func TestClient_AuthToken(t *testing.T) {
	store := newJSONStore()
	c := newTestClient(t, store, "s3cret")
	_ = c.Write(context.Background(), "k", "v")

	if auth := store.authSeen(); len(auth) != 1 || auth[0] != "s3cret" {
		t.Errorf("auth = %v, want [s3cret]", auth)
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}), "")

	err := c.Write(context.Background(), "k", "v")
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Errorf("Write() error = %v, want ErrUnexpectedStatus", err)
	}
}

func TestClient_NonStringValue(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"nested":true}`))
	}), "")

	if _, _, err := c.Read(context.Background(), "k"); err == nil {
		t.Error("Read() of non-string document should fail")
	}
}

func TestNew_Disabled(t *testing.T) {
	s := New(&config.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if Enabled(s) {
		t.Fatal("Enabled() = true for empty base URL")
	}
	if err := s.Write(context.Background(), "k", "v"); !errors.Is(err, ErrDisabled) {
		t.Errorf("Write() error = %v, want ErrDisabled", err)
	}
}
