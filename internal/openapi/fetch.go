package openapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Validators are the transport-level freshness tokens of one fetch.
type Validators struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// Empty reports whether the source offered no validator at all.
func (v Validators) Empty() bool { return v.ETag == "" && v.LastModified == "" }

// FetchResult is a parsed document plus everything needed to decide later
// whether a re-fetch can be skipped.
type FetchResult struct {
	Document    *Document
	Validators  Validators
	ContentHash string
	FetchedAt   time.Time
}

// Fetcher retrieves API descriptions with per-call headers and a hard
// timeout. It is safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	userAgent string
	logger    *log.Logger
}

// NewFetcher builds a fetcher with the given overall request timeout.
func NewFetcher(timeout time.Duration, userAgent string, logger *log.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logger,
	}
}

// Fetch downloads and decodes the document at url. The returned result
// carries validators and a sha256 content hash; the document is NOT yet
// shape-validated — callers decide how strict to be.
func (f *Fetcher) Fetch(ctx context.Context, url string, headers map[string]string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	f.setHeaders(req, headers)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", url, err)
	}

	doc, err := Decode(body)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(body)
	return &FetchResult{
		Document: doc,
		Validators: Validators{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		},
		ContentHash: hex.EncodeToString(sum[:]),
		FetchedAt:   time.Now(),
	}, nil
}

// CheckNotModified issues a conditional request against the stored
// validators. True means the source confirmed the document is unchanged.
// Without validators there is nothing to confirm and it returns false.
func (f *Fetcher) CheckNotModified(ctx context.Context, url string, v Validators, headers map[string]string) (bool, error) {
	if v.Empty() {
		return false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	f.setHeaders(req, headers)
	if v.ETag != "" {
		req.Header.Set("If-None-Match", v.ETag)
	}
	if v.LastModified != "" {
		req.Header.Set("If-Modified-Since", v.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("conditional fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode == http.StatusNotModified, nil
}

func (f *Fetcher) setHeaders(req *http.Request, headers map[string]string) {
	req.Header.Set("Accept", "application/json, application/yaml, text/yaml")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}
