// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"github.com/gomlx/stax/types/shapes"
)

// Executable is a compiled computation ready to execute.
type Executable interface {
	// Finalize immediately frees resources associated to the executable.
	Finalize()

	// Inputs returns the parameter names and shapes, in the order created
	// by the Builder.Parameter calls.
	Inputs() (names []string, inputShapes []shapes.Shape)

	// Outputs returns the shapes of the outputs of the computation, in the
	// order given to the Builder.Compile call.
	Outputs() (outputShapes []shapes.Shape)

	// Execute the computation. The number and shapes of the input buffers
	// must match Inputs. The returned buffers are owned by the caller.
	//
	// It is safe for concurrent use.
	Execute(inputs ...Buffer) []Buffer
}
