// Package resultcache stores predictions under two namespaces: the content
// fingerprint (long lived, shared by every submission of the same bytes) and
// the job id (short lived, read by the submitter).
package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/example/imgclassify/internal/pipeline"
)

// Namespace selects which family of keys a lookup targets.
type Namespace string

const (
	NamespaceFingerprint Namespace = "fingerprint"
	NamespaceJob         Namespace = "job"
)

const keyPrefix = "prediction"

// Key addresses one cached prediction.
type Key struct {
	Namespace Namespace
	ID        string
}

// FingerprintKey addresses the shared result for some content.
func FingerprintKey(fp pipeline.Fingerprint) Key {
	return Key{Namespace: NamespaceFingerprint, ID: fp.String()}
}

// JobKey addresses the result delivered to one submitter.
func JobKey(jobID string) Key {
	return Key{Namespace: NamespaceJob, ID: jobID}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, k.Namespace, k.ID)
}

// Options tune expiry. A zero TTL means the entry never expires.
type Options struct {
	FingerprintTTL time.Duration
	JobTTL         time.Duration
	// LRUSize bounds the in-process copy of fingerprint entries; 0 disables it.
	LRUSize int
	LRUTTL  time.Duration
}

// DefaultOptions keeps fingerprint results forever and job results for an hour.
func DefaultOptions() Options {
	return Options{
		FingerprintTTL: 0,
		JobTTL:         time.Hour,
		LRUSize:        4096,
		LRUTTL:         10 * time.Minute,
	}
}

// Cache is the result cache shared by façade and workers.
type Cache struct {
	kv     KV
	opts   Options
	local  *expirable.LRU[string, pipeline.Prediction]
	logger *zap.Logger
}

// New constructs a Cache over kv.
func New(kv KV, opts Options, logger *zap.Logger) *Cache {
	c := &Cache{kv: kv, opts: opts, logger: logger.Named("result_cache")}
	if opts.LRUSize > 0 {
		c.local = expirable.NewLRU[string, pipeline.Prediction](opts.LRUSize, nil, opts.LRUTTL)
	}
	return c
}

// Lookup returns the prediction under key or pipeline.ErrNotFound.
func (c *Cache) Lookup(ctx context.Context, key Key) (pipeline.Prediction, error) {
	if p, ok := c.localGet(key); ok {
		return p, nil
	}
	raw, err := c.kv.Get(ctx, key.String())
	if err != nil {
		return pipeline.Prediction{}, err
	}
	var p pipeline.Prediction
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		c.logger.Error("undecodable cache entry", zap.String("key", key.String()), zap.Error(err))
		return pipeline.Prediction{}, fmt.Errorf("decode %s: %w", key, err)
	}
	c.localAdd(key, p)
	return p, nil
}

// Store writes p under key unless the key already has a value. An existing
// different value is kept and the conflict logged.
func (c *Cache) Store(ctx context.Context, key Key, p pipeline.Prediction) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ok, err := c.kv.SetNX(ctx, key.String(), string(payload), c.ttl(key.Namespace))
	if err != nil {
		return err
	}
	if ok {
		c.localAdd(key, p)
		return nil
	}

	existing, err := c.kv.Get(ctx, key.String())
	if errors.Is(err, pipeline.ErrNotFound) {
		// Expired between SETNX and GET; nothing to compare against.
		return nil
	}
	if err != nil {
		return err
	}
	if existing != string(payload) {
		c.logger.Warn("conflicting prediction for key, keeping first value",
			zap.String("key", key.String()),
			zap.String("kept", existing),
			zap.String("rejected", string(payload)),
		)
	}
	var kept pipeline.Prediction
	if err := json.Unmarshal([]byte(existing), &kept); err == nil {
		c.localAdd(key, kept)
	}
	return nil
}

// Ping checks connectivity of the underlying store.
func (c *Cache) Ping(ctx context.Context) error {
	return c.kv.Ping(ctx)
}

func (c *Cache) ttl(ns Namespace) time.Duration {
	if ns == NamespaceJob {
		return c.opts.JobTTL
	}
	return c.opts.FingerprintTTL
}

// Only fingerprint entries are held locally: they never change once written,
// while job entries must always be read from the shared store.
func (c *Cache) localGet(key Key) (pipeline.Prediction, bool) {
	if c.local == nil || key.Namespace != NamespaceFingerprint {
		return pipeline.Prediction{}, false
	}
	return c.local.Get(key.ID)
}

func (c *Cache) localAdd(key Key, p pipeline.Prediction) {
	if c.local == nil || key.Namespace != NamespaceFingerprint {
		return
	}
	c.local.Add(key.ID, p)
}
