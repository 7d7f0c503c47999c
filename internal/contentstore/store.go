// Package contentstore persists uploaded images under the fingerprint of
// their bytes. Identical content is written at most once.
package contentstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/imgclassify/internal/pipeline"
)

// Backend is the durable medium behind a ContentStore.
//
// Write must be idempotent: when an object already exists under fp it returns
// (false, nil) without touching it. Read returns pipeline.ErrNotFound for
// unknown fingerprints.
type Backend interface {
	Exists(ctx context.Context, fp pipeline.Fingerprint) (bool, error)
	Write(ctx context.Context, fp pipeline.Fingerprint, content []byte) (bool, error)
	Read(ctx context.Context, fp pipeline.Fingerprint) ([]byte, error)
	Ping(ctx context.Context) error
}

// PutResult describes the outcome of a Put.
type PutResult struct {
	Fingerprint pipeline.Fingerprint
	// Stored is true when this call wrote the bytes, false when they were
	// already present.
	Stored bool
}

// ContentStore deduplicates content by fingerprint on top of a Backend.
type ContentStore struct {
	backend Backend
	locks   *keyLocks
	logger  *zap.Logger
}

// New constructs a ContentStore.
func New(backend Backend, logger *zap.Logger) *ContentStore {
	return &ContentStore{
		backend: backend,
		locks:   newKeyLocks(),
		logger:  logger.Named("content_store"),
	}
}

// Put stores content unless identical bytes are already present and returns
// the fingerprint either way.
func (s *ContentStore) Put(ctx context.Context, content []byte) (pipeline.Fingerprint, error) {
	res, err := s.PutResult(ctx, content)
	return res.Fingerprint, err
}

// PutResult is Put that also reports whether the write happened.
func (s *ContentStore) PutResult(ctx context.Context, content []byte) (PutResult, error) {
	fp := pipeline.ComputeFingerprint(content)
	res := PutResult{Fingerprint: fp}

	err := s.locks.do(string(fp), func() error {
		exists, err := s.backend.Exists(ctx, fp)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		stored, err := s.backend.Write(ctx, fp, content)
		if err != nil {
			return err
		}
		res.Stored = stored
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("put %s: %w", fp, err)
	}

	s.logger.Debug("content put", zap.String("fingerprint", fp.String()), zap.Bool("stored", res.Stored), zap.Int("size", len(content)))
	return res, nil
}

// Get returns the bytes stored under fp.
func (s *ContentStore) Get(ctx context.Context, fp pipeline.Fingerprint) ([]byte, error) {
	if !fp.Valid() {
		return nil, fmt.Errorf("get %q: %w", fp, pipeline.ErrNotFound)
	}
	content, err := s.backend.Read(ctx, fp)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", fp, err)
	}
	return content, nil
}

// Ping checks that the backend is reachable.
func (s *ContentStore) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}
