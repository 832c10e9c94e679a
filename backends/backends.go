// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface a tensor computation engine must
// implement to execute stax computation graphs.
//
// The graph package builds computations against the Builder interface and
// runs the resulting Executable; it owns no kernel code itself. The one
// engine shipped in-tree is backends/simplego, a portable pure-Go
// implementation.
//
// To simplify error handling during graph building, all methods throw
// (panic) with an error carrying a stack trace instead of returning errors.
// See package github.com/gomlx/exceptions: callers at API boundaries recover
// them with exceptions.TryCatch.
package backends

import (
	"os"
	"strings"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/gomlx/stax/types/shapes"
)

// Buffer is data (a tensor) stored by the engine that executes the graphs,
// used as input and output of computation execution. It is opaque to the
// caller.
type Buffer any

// Backend is the API a stax computation engine implements.
//
// A Backend is valid from creation until Finalize; using it afterwards
// throws an xerrors.ResourceClosedError.
type Backend interface {
	// Name returns the short name of the backend, e.g. "go".
	Name() string

	// Description is a longer description of the backend for pretty-printing.
	Description() string

	// Builder creates a builder for a new named computation.
	Builder(name string) Builder

	// BufferFromFlatData transfers a flat slice (of the Go type matching
	// shape.DType) to the engine, returning the corresponding Buffer.
	// The data is copied.
	BufferFromFlatData(flat any, shape shapes.Shape) Buffer

	// BufferToFlatData copies the buffer contents into flat, which must be a
	// slice of the matching Go type with exactly shape.Size() elements.
	BufferToFlatData(buffer Buffer, flat any)

	// BufferShape returns the shape of the buffer.
	BufferShape(buffer Buffer) shapes.Shape

	// BufferFinalize tells the engine the buffer is no longer needed.
	BufferFinalize(buffer Buffer)

	// IsFinalized reports whether Finalize was called.
	IsFinalized() bool

	// Finalize releases all resources held by the backend and invalidates
	// it. It may be called more than once; subsequent calls are no-ops.
	Finalize()
}

// Constructor takes a backend-specific config string (possibly empty) and
// returns a Backend.
type Constructor func(config string) Backend

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register a backend constructor under the given name. Backends register
// themselves during package initialization.
func Register(name string, constructor Constructor) {
	if _, found := registeredConstructors[name]; found {
		klog.Warningf("backends.Register: re-registering backend %q", name)
	}
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List returns the names of the registered backends.
func List() []string {
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	return names
}

// DefaultConfig is used by New when the STAX_BACKEND environment variable is
// not set.
var DefaultConfig string

// ConfigEnvVar is the environment variable consulted by New, with the format
// "<backend_name>" or "<backend_name>:<backend_configuration>".
const ConfigEnvVar = "STAX_BACKEND"

// New returns a Backend built from the first defined of: the STAX_BACKEND
// environment variable, the DefaultConfig variable, or the first registered
// backend with an empty configuration.
//
// It throws if no backend was registered: import a backend package (e.g.
// github.com/gomlx/stax/backends/simplego) for its registration side effect.
func New() Backend {
	if config, found := os.LookupEnv(ConfigEnvVar); found {
		return NewWithConfig(config)
	}
	return NewWithConfig(DefaultConfig)
}

// NewWithConfig returns a Backend for a configuration string formatted as
// "<backend_name>" or "<backend_name>:<backend_configuration>". An empty
// string selects the first registered backend.
func NewWithConfig(config string) Backend {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf("no registered backends -- import one for its side effects, "+
			`e.g.: import _ "github.com/gomlx/stax/backends/simplego" (%s=%q)`, ConfigEnvVar, config)
	}
	name, backendConfig := config, ""
	if idx := strings.Index(config, ":"); idx != -1 {
		name = config[:idx]
		backendConfig = config[idx+1:]
	}
	if name == "" {
		name = firstRegistered
	}
	constructor, found := registeredConstructors[name]
	if !found {
		exceptions.Panicf("backend %q (configuration %q) is not registered -- registered: %v",
			name, config, List())
	}
	klog.V(1).Infof("creating backend %q with configuration %q", name, backendConfig)
	return constructor(backendConfig)
}
