package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"emperror.dev/errors"
)

func TestWithCustomHeaders(t *testing.T) {
	customHeaders := map[string]string{
		"CF-Access-Client-Id":     "test-client-id",
		"CF-Access-Client-Secret": "test-client-secret",
		"X-Custom-Header":         "custom-value",
	}

	option := WithCustomHeaders(customHeaders)
	if option == nil {
		t.Fatal("WithCustomHeaders should not return nil")
	}

	client := New(
		"https://example.com",
		WithCustomHeaders(customHeaders),
	)

	if client == nil {
		t.Fatal("client should not be nil")
	}
}

func TestWithCustomHeadersNil(t *testing.T) {
	// Nil custom headers are handled gracefully.
	option := WithCustomHeaders(nil)
	if option == nil {
		t.Fatal("WithCustomHeaders should not return nil even with nil input")
	}

	client := New(
		"https://example.com",
		WithCustomHeaders(nil),
	)

	if client == nil {
		t.Fatal("client should not be nil")
	}
}

func TestWithCustomHeadersEmpty(t *testing.T) {
	option := WithCustomHeaders(map[string]string{})
	if option == nil {
		t.Fatal("WithCustomHeaders should not return nil even with empty map")
	}

	client := New(
		"https://example.com",
		WithCustomHeaders(map[string]string{}),
	)

	if client == nil {
		t.Fatal("client should not be nil")
	}
}

func TestFetchDatabaseConditional(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gimi/database_object.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{"objects":[{"name":"Ayaka"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithMaxAttempts(1))
	d, err := c.FetchDatabase(context.Background(), "GIMI", "")
	if err != nil {
		t.Fatalf("unexpected fetch error: %v", err)
	}
	if d.ETag != `"v1"` {
		t.Errorf("expected the mirror etag to round trip, got %q", d.ETag)
	}
	if len(d.Body) == 0 {
		t.Error("expected a response body")
	}

	if _, err := c.FetchDatabase(context.Background(), "gimi", `"v1"`); !errors.Is(err, ErrNotModified) {
		t.Errorf("expected ErrNotModified for a matching etag, got %v", err)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"objects":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithMaxAttempts(3))
	if _, err := c.FetchDatabase(context.Background(), "gimi", ""); err != nil {
		t.Fatalf("expected the retry to recover, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Errorf("expected exactly one retry, got %d requests", n)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, WithMaxAttempts(3))
	_, err := c.FetchDatabase(context.Background(), "gimi", "")
	if !IsRequestError(err) {
		t.Fatalf("expected a request error, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("expected a single request for a permanent failure, got %d", n)
	}
}

func TestUpdaterInstallsValidDatabase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gimi/database_object.json":
			w.Header().Set("ETag", `"db-1"`)
			_, _ = w.Write([]byte(`{"objects":[{"name":"Ayaka","rarity":"5"}]}`))
		case "/zzmi/database_object.json":
			_, _ = w.Write([]byte(`this is not a database`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	u := NewUpdater(New(srv.URL, WithMaxAttempts(1)), dir)

	if err := u.Refresh(context.Background(), []string{"GIMI"}); err != nil {
		t.Fatalf("unexpected refresh error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "gimi", "database_object.json")); err != nil {
		t.Errorf("expected the database to be installed: %v", err)
	}

	if err := u.Refresh(context.Background(), []string{"zzmi"}); err == nil {
		t.Fatal("expected a refresh error for an unusable download")
	}
	if _, err := os.Stat(filepath.Join(dir, "zzmi", "database_object.json")); !os.IsNotExist(err) {
		t.Error("an unusable download must never be installed")
	}
	if _, err := os.Stat(filepath.Join(dir, "zzmi", "database_object.json.download")); !os.IsNotExist(err) {
		t.Error("staged downloads should be cleaned up")
	}
}

func TestUpdaterRemembersETags(t *testing.T) {
	var full, conditional int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gimi/database_object.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("If-None-Match") == `"db-7"` {
			atomic.AddInt32(&conditional, 1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		atomic.AddInt32(&full, 1)
		w.Header().Set("ETag", `"db-7"`)
		_, _ = w.Write([]byte(`{"objects":[{"name":"Raiden Shogun"}]}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	client := New(srv.URL, WithMaxAttempts(1))

	u := NewUpdater(client, dir)
	if err := u.Refresh(context.Background(), []string{"gimi"}); err != nil {
		t.Fatalf("unexpected refresh error: %v", err)
	}
	if err := u.Refresh(context.Background(), []string{"gimi"}); err != nil {
		t.Fatalf("unexpected second refresh error: %v", err)
	}

	// A fresh updater over the same directory picks the etag state back up.
	u2 := NewUpdater(client, dir)
	if err := u2.Refresh(context.Background(), []string{"gimi"}); err != nil {
		t.Fatalf("unexpected refresh error after reload: %v", err)
	}

	if n := atomic.LoadInt32(&full); n != 1 {
		t.Errorf("expected a single full download, got %d", n)
	}
	if n := atomic.LoadInt32(&conditional); n != 2 {
		t.Errorf("expected two conditional hits answered from cache, got %d", n)
	}
}
