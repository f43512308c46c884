package gameapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/users/42", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          42,
			"name":        "builderman",
			"description": "bio: ABC123",
		})
	})
	mux.HandleFunc("GET /v1/users/7", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("GET /v1/users/500", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("GET /v1/users/999", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{"id":999}`))
	})
	mux.HandleFunc("POST /v1/usernames/users", func(w http.ResponseWriter, r *http.Request) {
		var req usernamesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !req.ExcludeBannedUsers {
			http.Error(w, "expected excludeBannedUsers", http.StatusBadRequest)
			return
		}
		if len(req.Usernames) == 1 && req.Usernames[0] == "builderman" {
			_, _ = w.Write([]byte(`{"data":[{"requestedUsername":"builderman","id":42,"name":"builderman"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveSubjectID(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, 2*time.Second, "")
	ctx := context.Background()

	cases := []struct {
		in      string
		want    int64
		wantErr error
	}{
		{in: "builderman", want: 42},
		{in: "@builderman", want: 42},
		{in: "42", want: 42},
		{in: "nobody", wantErr: ErrNotFound},
		{in: "7", wantErr: ErrNotFound},
		{in: "   ", wantErr: ErrNotFound},
	}
	for _, tc := range cases {
		got, err := c.ResolveSubjectID(ctx, tc.in)
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("ResolveSubjectID(%q) error = %v, want %v", tc.in, err, tc.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ResolveSubjectID(%q) error = %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ResolveSubjectID(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestFetchProfileText(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, 2*time.Second, "")

	got, err := c.FetchProfileText(context.Background(), 42)
	if err != nil {
		t.Fatalf("FetchProfileText() error = %v", err)
	}
	if got != "bio: ABC123" {
		t.Fatalf("FetchProfileText() = %q, want %q", got, "bio: ABC123")
	}
}

func TestUpstreamFailuresAreNotNotFound(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, 100*time.Millisecond, "")
	ctx := context.Background()

	for _, id := range []int64{500, 999} {
		_, err := c.FetchProfileText(ctx, id)
		var ue *UpstreamError
		if !errors.As(err, &ue) {
			t.Fatalf("FetchProfileText(%d) error = %v, want *UpstreamError", id, err)
		}
		if errors.Is(err, ErrNotFound) {
			t.Fatalf("FetchProfileText(%d) reported not found for an upstream failure", id)
		}
	}
}

func TestUnreachableHostIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, time.Second, "")
	_, err := c.ResolveSubjectID(context.Background(), "builderman")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("ResolveSubjectID() error = %v, want *UpstreamError", err)
	}
}
