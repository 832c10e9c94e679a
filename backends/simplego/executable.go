// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"sync"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/stax/backends"
	"github.com/gomlx/stax/types/shapes"
)

// Executable holds a frozen Builder. It assumes the graph in the Builder is
// valid: all shapes and dtypes were checked during building, so execution
// performs no duplicate checks.
type Executable struct {
	backend *Backend

	// builder has Builder.compiled set to true, so it is no longer active.
	builder *Builder

	// numNodesToProcess is max(outputs.builderIdx)+1: nodes above that index
	// are never needed.
	numNodesToProcess int

	// numUses is the number of times each node is used during execution.
	numUses []int

	// outputIsLastUse[ii] is true when output #ii is the last occurrence of
	// its node in the output list, so the node's buffer can be handed over
	// instead of cloned.
	outputIsLastUse []bool

	// maxInputs of all nodes used in the graph.
	maxInputs int

	// executionBuffersPool allows reuse of executionBuffers across calls,
	// which also makes Execute safe for concurrent use.
	executionBuffersPool sync.Pool
}

// Compile-time check.
var _ backends.Executable = (*Executable)(nil)

// executionBuffers holds the intermediate results during one execution of
// the graph.
type executionBuffers struct {
	// results hold the calculated values at each node.
	results []*Buffer

	// numUsed counts how many times each node result was consumed. Once it
	// reaches Executable.numUses the buffer can be released or reused.
	numUsed []int

	// owned indicates whether the corresponding buffer in results is owned
	// by the executor, in which case it can be reused or freed after its
	// last use.
	owned []bool

	// opInputBuffers and opInputsOwned are scratch slices reused by every
	// node execution.
	opInputBuffers []*Buffer
	opInputsOwned  []bool
}

// newExecutable creates an Executable ready to run the graph built with
// builder.
func newExecutable(builder *Builder) *Executable {
	var numNodesToProcess int
	for _, output := range builder.outputs {
		numNodesToProcess = max(numNodesToProcess, output.builderIdx+1)
	}
	e := &Executable{
		backend:           builder.backend,
		builder:           builder,
		numNodesToProcess: numNodesToProcess,
		numUses:           make([]int, numNodesToProcess),
	}
	for nodeIdx := range numNodesToProcess {
		e.maxInputs = max(e.maxInputs, len(builder.nodes[nodeIdx].inputs))
	}
	for _, output := range builder.outputs {
		e.countNodeUses(output)
	}
	e.outputIsLastUse = make([]bool, len(builder.outputs))
	lastUse := make(map[*Node]int, len(builder.outputs))
	for ii, output := range builder.outputs {
		lastUse[output] = ii
	}
	for ii, output := range builder.outputs {
		e.outputIsLastUse[ii] = lastUse[output] == ii
	}
	e.executionBuffersPool = sync.Pool{
		New: func() any {
			return &executionBuffers{
				results:        make([]*Buffer, numNodesToProcess),
				numUsed:        make([]int, numNodesToProcess),
				owned:          make([]bool, numNodesToProcess),
				opInputBuffers: make([]*Buffer, e.maxInputs),
				opInputsOwned:  make([]bool, e.maxInputs),
			}
		},
	}
	return e
}

// countNodeUses recursively counts how many times each node is used.
func (e *Executable) countNodeUses(node *Node) {
	nodeIdx := node.builderIdx
	e.numUses[nodeIdx]++
	if e.numUses[nodeIdx] == 1 {
		for _, input := range node.inputs {
			e.countNodeUses(input)
		}
	}
}

// Finalize immediately frees resources associated with the executable.
func (e *Executable) Finalize() {
	if e.builder == nil {
		return
	}
	e.builder.nodes = nil
	e.builder.inputs = nil
	e.builder.outputs = nil
	e.builder = nil
}

// Inputs returns the parameter names and shapes, in the order created by the
// Builder.Parameter calls.
func (e *Executable) Inputs() (names []string, inputShapes []shapes.Shape) {
	numInputs := len(e.builder.inputs)
	if numInputs == 0 {
		return
	}
	names = make([]string, numInputs)
	inputShapes = make([]shapes.Shape, numInputs)
	for ii, node := range e.builder.inputs {
		names[ii] = node.data.(*nodeParameter).name
		inputShapes[ii] = node.shape
	}
	return
}

// Outputs returns the shapes of the outputs of the computation, in the order
// given to the Builder.Compile call.
func (e *Executable) Outputs() (outputShapes []shapes.Shape) {
	outputShapes = make([]shapes.Shape, len(e.builder.outputs))
	for ii, node := range e.builder.outputs {
		outputShapes[ii] = node.shape
	}
	return
}

// nodeExecutor executes one operation type.
//
// It is given the buffers of the node inputs. If inputsOwned[i] is true the
// executor may take over inputs[i] as its output buffer, in which case it
// must set inputs[i] to nil to signal the take-over.
type nodeExecutor func(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer

// nodeExecutors is populated by the init functions of the exec_* files.
// Ops left nil are reported as not implemented.
var nodeExecutors [backends.OpTypeLast]nodeExecutor

// Execute the computation. The number and shapes of the input buffers must
// match the parameters created during building.
//
// The returned buffers are owned by the caller. Input buffers are not
// consumed.
func (e *Executable) Execute(inputs ...backends.Buffer) []backends.Buffer {
	e.backend.checkValid()
	if e.builder == nil {
		exceptions.Panicf("executable has already been finalized")
	}
	if len(inputs) != len(e.builder.inputs) {
		exceptions.Panicf("Execute %q: expected %d inputs, got %d", e.builder.name, len(e.builder.inputs), len(inputs))
	}
	for ii, input := range inputs {
		buffer := castBuffer(input)
		nodeInput := e.builder.inputs[ii]
		if !buffer.shape.Equal(nodeInput.shape) {
			exceptions.Panicf("Execute %q: parameter %q (input #%d) expected shape %s, got %s",
				e.builder.name, nodeInput.data.(*nodeParameter).name, ii, nodeInput.shape, buffer.shape)
		}
	}

	execBuf := e.executionBuffersPool.Get().(*executionBuffers)
	for ii := range e.numNodesToProcess {
		execBuf.results[ii] = nil
		execBuf.numUsed[ii] = 0
		execBuf.owned[ii] = false
	}

	// Parameter results are pre-filled with the input buffers: they are not
	// owned by the executor, so they are never reused as op outputs.
	for ii, input := range inputs {
		execBuf.results[e.builder.inputs[ii].builderIdx] = input.(*Buffer)
	}

	// Nodes are in DAG order: all inputs of a node are computed before it.
	for nodeIdx := range e.numNodesToProcess {
		node := e.builder.nodes[nodeIdx]
		if execBuf.results[nodeIdx] != nil || e.numUses[nodeIdx] == 0 {
			continue
		}
		e.executeNode(node, execBuf)
	}

	// Collect outputs. A node's buffer is handed over only on its last
	// occurrence in the output list and only if the executor owns it; every
	// other occurrence gets a copy.
	outputs := make([]backends.Buffer, len(e.builder.outputs))
	for ii, outputNode := range e.builder.outputs {
		outNodeIdx := outputNode.builderIdx
		outBuf := execBuf.results[outNodeIdx]
		if outBuf == nil {
			exceptions.Panicf("Execute %q: output #%d (%s) was not computed, this is a bug",
				e.builder.name, ii, outputNode.opType)
		}
		if execBuf.owned[outNodeIdx] && e.outputIsLastUse[ii] {
			execBuf.results[outNodeIdx] = nil
		} else {
			outBuf = e.backend.cloneBuffer(outBuf)
		}
		outputs[ii] = outBuf
	}

	// Free intermediate buffers not yet released.
	for nodeIdx, buf := range execBuf.results {
		if buf != nil && execBuf.owned[nodeIdx] {
			e.backend.putBuffer(buf)
		}
		execBuf.results[nodeIdx] = nil
	}
	e.executionBuffersPool.Put(execBuf)
	return outputs
}

// executeNode executes one node, reading its inputs from execBuf and storing
// the result there.
func (e *Executable) executeNode(node *Node, execBuf *executionBuffers) {
	nodeIdx := node.builderIdx

	// Constants are served from the node itself and are never owned by the
	// executor.
	if node.opType == backends.OpTypeConstant {
		execBuf.results[nodeIdx] = node.data.(*Buffer)
		execBuf.owned[nodeIdx] = false
		return
	}

	numInputs := len(node.inputs)
	inputBuffers := execBuf.opInputBuffers[:numInputs]
	inputsOwned := execBuf.opInputsOwned[:numInputs]
	for ii, input := range node.inputs {
		inputNodeIdx := input.builderIdx
		inputBuffers[ii] = execBuf.results[inputNodeIdx]
		if inputBuffers[ii] == nil {
			exceptions.Panicf("Execute %q: input #%d of node #%d (%s) was not computed, this is a bug",
				e.builder.name, ii, nodeIdx, node.opType)
		}
		// The executor may take over an input buffer only on its last use.
		inputsOwned[ii] = execBuf.owned[inputNodeIdx] &&
			e.numUses[inputNodeIdx]-execBuf.numUsed[inputNodeIdx] == 1
	}

	executor := nodeExecutors[node.opType]
	if executor == nil {
		exceptions.Panicf("Execute %q: op %s is not implemented by the %q backend",
			e.builder.name, node.opType, BackendName)
	}
	execBuf.results[nodeIdx] = executor(e.backend, node, inputBuffers, inputsOwned)
	execBuf.owned[nodeIdx] = true

	// Account for the inputs used, releasing the ones no longer needed.
	for ii, inputNode := range node.inputs {
		inputNodeIdx := inputNode.builderIdx
		execBuf.numUsed[inputNodeIdx]++
		if inputBuffers[ii] == nil {
			// The executor took over the buffer as its output.
			execBuf.results[inputNodeIdx] = nil
			continue
		}
		if execBuf.numUsed[inputNodeIdx] == e.numUses[inputNodeIdx] && execBuf.owned[inputNodeIdx] {
			e.backend.putBuffer(inputBuffers[ii])
			execBuf.results[inputNodeIdx] = nil
		}
	}
}
