package indexer

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Store is the best-effort on-disk side channel for built indexes and their
// fetch metadata. Corruption or absence never fails the primary path; every
// read error is treated as a plain miss.
type Store struct {
	db     *bolt.DB
	logger *log.Logger
}

const storeVersion = 1

var (
	bucketIndexes = []byte("indexes")
	bucketMeta    = []byte("meta")
)

// envelope versions every persisted value so a format change invalidates
// old entries instead of mis-decoding them.
type envelope struct {
	Version int             `json:"v"`
	Data    json.RawMessage `json:"data"`
}

// OpenStore opens (or creates) the bbolt file at path.
func OpenStore(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open index store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketIndexes, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init index store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveIndex persists one built index. Errors are returned for logging but
// callers must not treat them as failures.
func (s *Store) SaveIndex(key string, idx *DocumentIndex) error {
	return s.put(bucketIndexes, key, idx)
}

// LoadIndex returns a previously persisted index, or false on any miss,
// decode error, or version mismatch.
func (s *Store) LoadIndex(key string) (*DocumentIndex, bool) {
	var idx DocumentIndex
	if !s.get(bucketIndexes, key, &idx) {
		return nil, false
	}
	return &idx, true
}

// SaveMeta persists the fetch metadata for one index identity.
func (s *Store) SaveMeta(key string, meta FetchMetadata) error {
	return s.put(bucketMeta, key, meta)
}

// LoadMeta returns persisted fetch metadata, false on any miss.
func (s *Store) LoadMeta(key string) (FetchMetadata, bool) {
	var meta FetchMetadata
	if !s.get(bucketMeta, key, &meta) {
		return FetchMetadata{}, false
	}
	return meta, true
}

// Delete removes the index and metadata for one identity.
func (s *Store) Delete(key string) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketIndexes).Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Delete([]byte(key))
	})
	if err != nil {
		s.logger.Printf("store delete %s: %v", key, err)
	}
}

// Clear drops all persisted indexes and metadata.
func (s *Store) Clear() {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketIndexes, bucketMeta} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Printf("store clear: %v", err)
	}
}

func (s *Store) put(bucket []byte, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	env, err := json.Marshal(envelope{Version: storeVersion, Data: data})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), env)
	})
}

func (s *Store) get(bucket []byte, key string, out any) bool {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucket).Get([]byte(key)); v != nil {
			raw = make([]byte, len(v))
			copy(raw, v)
		}
		return nil
	})
	if err != nil || raw == nil {
		return false
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Version != storeVersion {
		s.logger.Printf("store: discarding unreadable entry %s", key)
		return false
	}
	return json.Unmarshal(env.Data, out) == nil
}
