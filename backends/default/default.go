// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package _default registers the default backends. Currently that is the
// pure-Go simplego engine.
//
// To use it simply include:
//
//	import _ "github.com/gomlx/stax/backends/default"
package _default

import (
	_ "github.com/gomlx/stax/backends/simplego"
)
