// Package details retrieves the full definition of one operation,
// independent of the lightweight index, with its own on-disk memo.
package details

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/apiscout/apiscout/internal/indexer"
	"github.com/apiscout/apiscout/internal/openapi"
)

// ErrNotFound marks a path/method pair absent from the source document.
var ErrNotFound = errors.New("operation not found")

// Detail is the full definition of one operation. The heavy sections stay
// raw JSON; callers render them as-is.
type Detail struct {
	Method      string   `json:"method"`
	Path        string   `json:"path"`
	Summary     string   `json:"summary,omitempty"`
	Description string   `json:"description,omitempty"`
	OperationID string   `json:"operation_id,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Deprecated  bool     `json:"deprecated,omitempty"`

	Parameters  json.RawMessage `json:"parameters,omitempty"`
	RequestBody json.RawMessage `json:"request_body,omitempty"`
	Responses   json.RawMessage `json:"responses,omitempty"`
	Security    json.RawMessage `json:"security,omitempty"`

	CachedAt time.Time `json:"cached_at"`
}

// memoTTL bounds how long a memoized detail is served without re-fetching.
const memoTTL = 30 * time.Minute

var bucketDetails = []byte("details")

const memoVersion = 1

type memoEnvelope struct {
	Version int    `json:"v"`
	Data    Detail `json:"data"`
}

// Loader fetches operation details with a bbolt-backed memo.
type Loader struct {
	fetcher *openapi.Fetcher
	db      *bolt.DB // nil when the memo is disabled
	logger  *log.Logger
}

// NewLoader opens the memo at dbPath. An empty dbPath disables the memo;
// a memo that fails to open is also just disabled, never fatal.
func NewLoader(fetcher *openapi.Fetcher, dbPath string, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	l := &Loader{fetcher: fetcher, logger: logger}
	if dbPath == "" {
		return l
	}
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		logger.Printf("details memo disabled: %v", err)
		return l
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDetails)
		return err
	})
	if err != nil {
		logger.Printf("details memo disabled: %v", err)
		db.Close()
		return l
	}
	l.db = db
	return l
}

// Close releases the memo database.
func (l *Loader) Close() {
	if l.db != nil {
		l.db.Close()
	}
}

// Load returns the full definition of method+path from the document at
// sourceURL, serving from the memo when a fresh entry exists.
func (l *Loader) Load(ctx context.Context, sourceURL, path, method string, headers map[string]string) (*Detail, error) {
	method = strings.ToUpper(method)
	key := memoKey(sourceURL, path, method)

	if d, ok := l.memoGet(key); ok {
		return d, nil
	}

	res, err := l.fetcher.Fetch(ctx, sourceURL, headers)
	if err != nil {
		return nil, err
	}
	if err := res.Document.Validate(); err != nil {
		return nil, err
	}

	item, ok := res.Document.Paths[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	}
	op := item.Operation(method)
	if op == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	}

	d := &Detail{
		Method:      method,
		Path:        path,
		Summary:     op.Summary,
		Description: op.Description,
		OperationID: op.OperationID,
		Tags:        op.Tags,
		Deprecated:  op.Deprecated,
		Parameters:  op.Parameters,
		RequestBody: op.RequestBody,
		Responses:   op.Responses,
		Security:    op.Security,
		CachedAt:    time.Now(),
	}
	l.memoPut(key, d)
	return d, nil
}

func memoKey(sourceURL, path, method string) string {
	return indexer.HashURL(sourceURL) + ":" + method + ":" + path
}

// memoGet returns a live memo entry. Entries older than memoTTL are deleted
// and reported absent.
func (l *Loader) memoGet(key string) (*Detail, bool) {
	if l.db == nil {
		return nil, false
	}
	var raw []byte
	_ = l.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketDetails).Get([]byte(key)); v != nil {
			raw = make([]byte, len(v))
			copy(raw, v)
		}
		return nil
	})
	if raw == nil {
		return nil, false
	}
	var env memoEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Version != memoVersion {
		l.memoDelete(key)
		return nil, false
	}
	if time.Since(env.Data.CachedAt) > memoTTL {
		l.memoDelete(key)
		return nil, false
	}
	return &env.Data, true
}

func (l *Loader) memoPut(key string, d *Detail) {
	if l.db == nil {
		return
	}
	data, err := json.Marshal(memoEnvelope{Version: memoVersion, Data: *d})
	if err != nil {
		return
	}
	err = l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDetails).Put([]byte(key), data)
	})
	if err != nil {
		l.logger.Printf("details memo write %s: %v", key, err)
	}
}

func (l *Loader) memoDelete(key string) {
	if l.db == nil {
		return
	}
	_ = l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDetails).Delete([]byte(key))
	})
}
