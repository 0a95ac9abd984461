// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage persists per-chat history and settings as JSON blobs.
//
// Three blob backends are provided:
//   - memory: process-local, for tests and the console chat
//   - sqlite: a single local database file
//   - s3: an S3-compatible bucket, signed with SigV4
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/relay/internal/config"
	"github.com/tombee/relay/internal/log"
)

// ErrNotFound is returned by Get when no blob exists under the key.
var ErrNotFound = errors.New("blob not found")

// BlobStore is a flat key-value store of byte blobs.
type BlobStore interface {
	// Get returns the blob stored under key, or an error wrapping
	// ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

func notFound(key string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}

// Open builds the blob store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (BlobStore, error) {
	logger = log.OrDefault(logger)

	var (
		store BlobStore
		err   error
	)
	switch cfg.Backend {
	case "", "memory":
		store = NewMemoryStore()
	case "sqlite":
		store, err = NewSQLiteStore(ctx, SQLiteConfig{Path: cfg.Path})
	case "s3":
		store, err = NewS3Store(ctx, S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			Prefix:    cfg.S3.Prefix,
			PathStyle: cfg.S3.PathStyle,
			Logger:    logger,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Backend, err)
	}

	backend := cfg.Backend
	if backend == "" {
		backend = "memory"
	}
	logger.Info("storage opened", slog.String("backend", backend))
	return Instrument(store, backend), nil
}

// instrumented records operation latency and errors for a backend.
type instrumented struct {
	BlobStore
	backend string
}

// Instrument wraps store so every operation is recorded in the storage
// metrics under backend.
func Instrument(store BlobStore, backend string) BlobStore {
	return &instrumented{BlobStore: store, backend: backend}
}

func (s *instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := s.BlobStore.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		// A miss is an expected outcome, not a failure.
		recordOperation(s.backend, "get", time.Since(start), nil)
		return nil, err
	}
	recordOperation(s.backend, "get", time.Since(start), err)
	return data, err
}

func (s *instrumented) Put(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	err := s.BlobStore.Put(ctx, key, data)
	recordOperation(s.backend, "put", time.Since(start), err)
	return err
}

func (s *instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.BlobStore.Delete(ctx, key)
	recordOperation(s.backend, "delete", time.Since(start), err)
	return err
}
