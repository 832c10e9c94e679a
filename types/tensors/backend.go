// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"github.com/gomlx/stax/backends"
)

// Buffer transfers the tensor to the backend and returns the resulting
// buffer, which holds a copy of the data. The tensor is not changed, and
// the buffer is owned by the caller.
func (t *Tensor) Buffer(backend backends.Backend) backends.Buffer {
	return backend.BufferFromFlatData(t.flat, t.shape)
}

// FromBuffer creates a Tensor with a copy of the buffer contents. The buffer
// is not finalized and remains usable.
func FromBuffer(backend backends.Backend, buffer backends.Buffer) *Tensor {
	t := FromShape(backend.BufferShape(buffer))
	backend.BufferToFlatData(buffer, t.flat)
	return t
}
