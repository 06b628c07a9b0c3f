package openapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const fetchDoc = `{"openapi":"3.0.0","info":{"title":"T","version":"1"},"paths":{"/a":{"get":{"summary":"A"}}}}`

func TestFetchCapturesValidatorsAndHash(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		w.Write([]byte(fetchDoc))
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, "test/1.0", nil)
	res, err := f.Fetch(context.Background(), srv.URL, map[string]string{"Authorization": "Bearer tok"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("per-call header not sent: %q", gotAuth)
	}
	if res.Validators.ETag != `"v1"` || res.Validators.LastModified == "" {
		t.Fatalf("validators not captured: %+v", res.Validators)
	}
	if res.ContentHash == "" {
		t.Fatalf("content hash missing")
	}
	if res.Document.Info.Title != "T" {
		t.Fatalf("document not decoded")
	}
}

func TestFetchRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, "", nil)
	if _, err := f.Fetch(context.Background(), srv.URL, nil); err == nil {
		t.Fatalf("expected error on 403")
	}
}

func TestCheckNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write([]byte(fetchDoc))
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, "", nil)

	unchanged, err := f.CheckNotModified(context.Background(), srv.URL, Validators{ETag: `"v1"`}, nil)
	if err != nil || !unchanged {
		t.Fatalf("unchanged = %v, err = %v; want true, nil", unchanged, err)
	}

	changed, err := f.CheckNotModified(context.Background(), srv.URL, Validators{ETag: `"v0"`}, nil)
	if err != nil || changed {
		t.Fatalf("changed validator reported not-modified")
	}

	// No validators: nothing to confirm.
	none, err := f.CheckNotModified(context.Background(), srv.URL, Validators{}, nil)
	if err != nil || none {
		t.Fatalf("empty validators must report false")
	}
}
