// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simplego implements a simple, and not very fast, but very portable
// backend for stax.
//
// It is written in pure Go, with no external dependencies, so it runs
// anywhere Go runs. It executes the graph nodes sequentially, one at a time,
// and only implements the most popular dtypes for each operation.
package simplego

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/stax/backends"
	"github.com/gomlx/stax/types/xerrors"
)

// BackendName to be used in STAX_BACKEND to select this backend.
const BackendName = "go"

func init() {
	backends.Register(BackendName, New)
}

// New constructs a new SimpleGo backend.
// There are no configuration options, the string is ignored.
func New(_ string) backends.Backend {
	return &Backend{}
}

// Backend implements the backends.Backend interface.
type Backend struct {
	// bufferPools maps bufferPoolKey to *sync.Pool of reusable buffers.
	bufferPools sync.Map

	finalized atomic.Bool
}

// Compile-time check that simplego.Backend implements backends.Backend.
var _ backends.Backend = (*Backend)(nil)

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return BackendName
}

// Description is a longer description of the backend for pretty-printing.
func (b *Backend) Description() string {
	return "SimpleGo: portable pure-Go backend"
}

// Builder creates a builder for a new named computation.
func (b *Backend) Builder(name string) backends.Builder {
	b.checkValid()
	return &Builder{
		backend: b,
		name:    name,
	}
}

// IsFinalized reports whether Finalize was called.
func (b *Backend) IsFinalized() bool {
	return b.finalized.Load()
}

// Finalize releases the pooled buffers and invalidates the backend.
// Calling it more than once is a no-op.
func (b *Backend) Finalize() {
	if b.finalized.Swap(true) {
		return
	}
	b.bufferPools.Range(func(key, _ any) bool {
		b.bufferPools.Delete(key)
		return true
	})
}

// checkValid panics with an xerrors.ResourceClosedError if the backend was
// finalized.
func (b *Backend) checkValid() {
	if b.finalized.Load() {
		xerrors.ThrowResourceClosedf("backend %q has already been finalized", BackendName)
	}
}
