// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"reflect"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/stax/backends"
	"github.com/gomlx/stax/types/shapes"
)

// Buffer for the SimpleGo backend holds a shape and the flat data.
//
// Buffers are recycled through per-(dtype, size) pools owned by the Backend,
// so the flat data of a freshly acquired buffer holds stale values.
type Buffer struct {
	shape shapes.Shape
	valid bool

	// flat is always a slice of the Go type matching shape.DType.
	flat any
}

type bufferPoolKey struct {
	dtype  dtypes.DType
	length int
}

// getBufferPool for the given dtype/length.
func (b *Backend) getBufferPool(dtype dtypes.DType, length int) *sync.Pool {
	key := bufferPoolKey{dtype: dtype, length: length}
	poolInterface, ok := b.bufferPools.Load(key)
	if !ok {
		poolInterface, _ = b.bufferPools.LoadOrStore(key, &sync.Pool{
			New: func() any {
				return &Buffer{
					flat:  reflect.MakeSlice(reflect.SliceOf(dtype.GoType()), length, length).Interface(),
					shape: shapes.Make(dtype, length),
				}
			},
		})
	}
	return poolInterface.(*sync.Pool)
}

// getBuffer acquires a buffer from the backend pools.
// Its flat data is uninitialized: kernels must overwrite every element.
func (b *Backend) getBuffer(dtype dtypes.DType, length int) *Buffer {
	buf := b.getBufferPool(dtype, length).Get().(*Buffer)
	buf.valid = true
	return buf
}

// getBufferForShape acquires a buffer and sets its shape.
func (b *Backend) getBufferForShape(shape shapes.Shape) *Buffer {
	buf := b.getBuffer(shape.DType, shape.Size())
	buf.shape = shape.Clone()
	return buf
}

// putBuffer returns the buffer to the backend pools.
// Any references to it must be dropped after this.
func (b *Backend) putBuffer(buffer *Buffer) {
	if buffer == nil || !buffer.shape.Ok() {
		return
	}
	buffer.valid = false
	b.getBufferPool(buffer.shape.DType, buffer.shape.Size()).Put(buffer)
}

// cloneBuffer using the pools to allocate the copy.
func (b *Backend) cloneBuffer(buffer *Buffer) *Buffer {
	newBuffer := b.getBufferForShape(buffer.shape)
	copyFlat(newBuffer.flat, buffer.flat)
	return newBuffer
}

// copyFlat assumes both flat slices are of the same underlying type.
func copyFlat(flatDst, flatSrc any) {
	reflect.Copy(reflect.ValueOf(flatDst), reflect.ValueOf(flatSrc))
}

// castBuffer casts a backends.Buffer and checks it is usable.
func castBuffer(backendBuffer backends.Buffer) *Buffer {
	buffer, ok := backendBuffer.(*Buffer)
	if !ok {
		exceptions.Panicf("buffer was not created by the %q backend", BackendName)
	}
	if buffer == nil || buffer.flat == nil || !buffer.shape.Ok() || !buffer.valid {
		exceptions.Panicf("%q buffer is invalid or was already finalized", BackendName)
	}
	return buffer
}

// BufferFromFlatData transfers a flat slice to the backend, returning the
// corresponding buffer. The data is copied.
func (b *Backend) BufferFromFlatData(flat any, shape shapes.Shape) backends.Buffer {
	b.checkValid()
	flatType := reflect.TypeOf(flat)
	if flatType.Kind() != reflect.Slice {
		exceptions.Panicf("BufferFromFlatData: flat data must be a slice, got %T", flat)
	}
	if dtypes.FromGoType(flatType.Elem()) != shape.DType {
		exceptions.Panicf("BufferFromFlatData: flat data type %s does not match shape %s",
			flatType.Elem(), shape)
	}
	if reflect.ValueOf(flat).Len() != shape.Size() {
		exceptions.Panicf("BufferFromFlatData: flat data has %d elements, shape %s requires %d",
			reflect.ValueOf(flat).Len(), shape, shape.Size())
	}
	buffer := b.getBufferForShape(shape)
	copyFlat(buffer.flat, flat)
	return buffer
}

// BufferToFlatData copies the buffer contents to flat, a slice of the Go type
// matching the buffer dtype with exactly shape.Size() elements.
func (b *Backend) BufferToFlatData(backendBuffer backends.Buffer, flat any) {
	b.checkValid()
	buffer := castBuffer(backendBuffer)
	flatType := reflect.TypeOf(flat)
	if flatType.Kind() != reflect.Slice ||
		dtypes.FromGoType(flatType.Elem()) != buffer.shape.DType {
		exceptions.Panicf("BufferToFlatData: flat %T does not match buffer shape %s", flat, buffer.shape)
	}
	if reflect.ValueOf(flat).Len() != buffer.shape.Size() {
		exceptions.Panicf("BufferToFlatData: flat has %d elements, buffer shape %s requires %d",
			reflect.ValueOf(flat).Len(), buffer.shape, buffer.shape.Size())
	}
	copyFlat(flat, buffer.flat)
}

// BufferShape returns the shape of the buffer.
func (b *Backend) BufferShape(backendBuffer backends.Buffer) shapes.Shape {
	return castBuffer(backendBuffer).shape
}

// BufferFinalize tells the backend the buffer is no longer needed.
func (b *Backend) BufferFinalize(backendBuffer backends.Buffer) {
	if b.IsFinalized() {
		return
	}
	b.putBuffer(castBuffer(backendBuffer))
}
