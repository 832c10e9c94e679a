// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/stax/backends"
	"github.com/gomlx/stax/types/shapes"
)

func init() {
	nodeExecutors[backends.OpTypeConvGeneral] = execConvGeneral
	nodeExecutors[backends.OpTypeConvGradInput] = execConvGradInput
	nodeExecutors[backends.OpTypeConvGradKernel] = execConvGradKernel
}

// convNode is attached to Node.data for ConvGeneral and its gradient ops.
type convNode struct {
	strides   []int
	paddings  [][2]int
	dilations []int
}

func newConvNode(strides []int, paddings [][2]int, dilations []int) *convNode {
	return &convNode{
		strides:   slices.Clone(strides),
		paddings:  slices.Clone(paddings),
		dilations: slices.Clone(dilations),
	}
}

// convOutputShape validates the convolution parameters and returns the shape
// of the convolution output. input must be shaped [batch, height, width,
// inChannels] and kernel [kernelHeight, kernelWidth, inChannels, outChannels].
func convOutputShape(opName string, input, kernel shapes.Shape, strides []int, paddings [][2]int, dilations []int) shapes.Shape {
	dtype := input.DType
	if !dtype.IsFloat() {
		exceptions.Panicf("%s: only float dtypes are supported, input got %s", opName, input)
	}
	if kernel.DType != dtype {
		exceptions.Panicf("%s: input (%s) and kernel (%s) dtypes must match", opName, input, kernel)
	}
	if input.Rank() != 4 {
		exceptions.Panicf("%s: input must be shaped [batch, height, width, channels], got %s", opName, input)
	}
	if kernel.Rank() != 4 {
		exceptions.Panicf("%s: kernel must be shaped [height, width, inChannels, outChannels], got %s",
			opName, kernel)
	}
	if kernel.Dimensions[2] != input.Dimensions[3] {
		exceptions.Panicf("%s: kernel input channels (%d) must match input channels (%d)",
			opName, kernel.Dimensions[2], input.Dimensions[3])
	}
	const numSpatial = 2
	if len(strides) != numSpatial || len(paddings) != numSpatial || len(dilations) != numSpatial {
		exceptions.Panicf("%s: strides (%v), paddings (%v) and dilations (%v) must have one value per spatial axis",
			opName, strides, paddings, dilations)
	}
	dims := make([]int, 4)
	dims[0] = input.Dimensions[0]
	dims[3] = kernel.Dimensions[3]
	for spatial := range numSpatial {
		if strides[spatial] < 1 {
			exceptions.Panicf("%s: strides must be at least 1, got %v", opName, strides)
		}
		if dilations[spatial] < 1 {
			exceptions.Panicf("%s: dilations must be at least 1, got %v", opName, dilations)
		}
		if paddings[spatial][0] < 0 || paddings[spatial][1] < 0 {
			exceptions.Panicf("%s: paddings cannot be negative, got %v", opName, paddings)
		}
		effectiveKernel := dilations[spatial]*(kernel.Dimensions[spatial]-1) + 1
		padded := input.Dimensions[spatial+1] + paddings[spatial][0] + paddings[spatial][1]
		if padded < effectiveKernel {
			exceptions.Panicf("%s: kernel %s (dilations %v) does not fit the padded input %s (paddings %v)",
				opName, kernel, dilations, input, paddings)
		}
		dims[spatial+1] = (padded-effectiveKernel)/strides[spatial] + 1
	}
	return shapes.Make(dtype, dims...)
}

// ConvGeneral implements backends.Builder.
func (b *Builder) ConvGeneral(input, kernel backends.Op, strides []int, paddings [][2]int, dilations []int) backends.Op {
	operands := b.checkOps("ConvGeneral", input, kernel)
	inputN, kernelN := operands[0], operands[1]
	outputShape := convOutputShape("ConvGeneral", inputN.shape, kernelN.shape, strides, paddings, dilations)
	node := b.newNode(backends.OpTypeConvGeneral, outputShape, inputN, kernelN)
	node.data = newConvNode(strides, paddings, dilations)
	return node
}

// ConvGradInput implements backends.Builder.
func (b *Builder) ConvGradInput(gradOutput, kernel backends.Op, inputShape shapes.Shape, strides []int, paddings [][2]int, dilations []int) backends.Op {
	operands := b.checkOps("ConvGradInput", gradOutput, kernel)
	gradOutputN, kernelN := operands[0], operands[1]
	expected := convOutputShape("ConvGradInput", inputShape, kernelN.shape, strides, paddings, dilations)
	if !gradOutputN.shape.Equal(expected) {
		exceptions.Panicf("ConvGradInput: gradOutput shaped %s, but the convolution of input %s with kernel %s is shaped %s",
			gradOutputN.shape, inputShape, kernelN.shape, expected)
	}
	node := b.newNode(backends.OpTypeConvGradInput, inputShape.Clone(), gradOutputN, kernelN)
	node.data = newConvNode(strides, paddings, dilations)
	return node
}

// ConvGradKernel implements backends.Builder.
func (b *Builder) ConvGradKernel(input, gradOutput backends.Op, kernelShape shapes.Shape, strides []int, paddings [][2]int, dilations []int) backends.Op {
	operands := b.checkOps("ConvGradKernel", input, gradOutput)
	inputN, gradOutputN := operands[0], operands[1]
	expected := convOutputShape("ConvGradKernel", inputN.shape, kernelShape, strides, paddings, dilations)
	if !gradOutputN.shape.Equal(expected) {
		exceptions.Panicf("ConvGradKernel: gradOutput shaped %s, but the convolution of input %s with kernel %s is shaped %s",
			gradOutputN.shape, inputN.shape, kernelShape, expected)
	}
	node := b.newNode(backends.OpTypeConvGradKernel, kernelShape.Clone(), inputN, gradOutputN)
	node.data = newConvNode(strides, paddings, dilations)
	return node
}

func execConvGeneral(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
	input, kernel := inputs[0], inputs[1]
	data := node.data.(*convNode)
	output := backend.getBufferForShape(node.shape)
	switch input.shape.DType {
	case dtypes.Float32:
		execConvForwardGeneric(input.flat.([]float32), kernel.flat.([]float32), output.flat.([]float32),
			input.shape.Dimensions, kernel.shape.Dimensions, node.shape.Dimensions, data)
	case dtypes.Float64:
		execConvForwardGeneric(input.flat.([]float64), kernel.flat.([]float64), output.flat.([]float64),
			input.shape.Dimensions, kernel.shape.Dimensions, node.shape.Dimensions, data)
	default:
		exceptions.Panicf("unsupported data type %s for %s", input.shape.DType, node.opType)
	}
	return output
}

func execConvGradInput(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
	gradOutput, kernel := inputs[0], inputs[1]
	data := node.data.(*convNode)
	gradInput := backend.getBufferForShape(node.shape)
	switch gradOutput.shape.DType {
	case dtypes.Float32:
		execConvGradInputGeneric(gradInput.flat.([]float32), kernel.flat.([]float32), gradOutput.flat.([]float32),
			node.shape.Dimensions, kernel.shape.Dimensions, gradOutput.shape.Dimensions, data)
	case dtypes.Float64:
		execConvGradInputGeneric(gradInput.flat.([]float64), kernel.flat.([]float64), gradOutput.flat.([]float64),
			node.shape.Dimensions, kernel.shape.Dimensions, gradOutput.shape.Dimensions, data)
	default:
		exceptions.Panicf("unsupported data type %s for %s", gradOutput.shape.DType, node.opType)
	}
	return gradInput
}

func execConvGradKernel(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
	input, gradOutput := inputs[0], inputs[1]
	data := node.data.(*convNode)
	gradKernel := backend.getBufferForShape(node.shape)
	switch input.shape.DType {
	case dtypes.Float32:
		execConvGradKernelGeneric(input.flat.([]float32), gradKernel.flat.([]float32), gradOutput.flat.([]float32),
			input.shape.Dimensions, node.shape.Dimensions, gradOutput.shape.Dimensions, data)
	case dtypes.Float64:
		execConvGradKernelGeneric(input.flat.([]float64), gradKernel.flat.([]float64), gradOutput.flat.([]float64),
			input.shape.Dimensions, node.shape.Dimensions, gradOutput.shape.Dimensions, data)
	default:
		exceptions.Panicf("unsupported data type %s for %s", input.shape.DType, node.opType)
	}
	return gradKernel
}

// execConvForwardGeneric computes output[n, oh, ow, co] = sum over kh, kw, ci
// of input[n, oh*strideH+kh*dilationH-padTop, ow*strideW+kw*dilationW-padLeft, ci]
// * kernel[kh, kw, ci, co], skipping positions that fall on the (zero) padding.
func execConvForwardGeneric[T floatPODConstraints](input, kernel, output []T, inDims, kernelDims, outDims []int, data *convNode) {
	inH, inW, inC := inDims[1], inDims[2], inDims[3]
	kernelH, kernelW, outC := kernelDims[0], kernelDims[1], kernelDims[3]
	outH, outW := outDims[1], outDims[2]
	strideH, strideW := data.strides[0], data.strides[1]
	padTop, padLeft := data.paddings[0][0], data.paddings[1][0]
	dilationH, dilationW := data.dilations[0], data.dilations[1]
	clear(output)
	for n := range outDims[0] {
		for oh := range outH {
			for ow := range outW {
				outBase := ((n*outH+oh)*outW + ow) * outC
				for kh := range kernelH {
					ih := oh*strideH + kh*dilationH - padTop
					if ih < 0 || ih >= inH {
						continue
					}
					for kw := range kernelW {
						iw := ow*strideW + kw*dilationW - padLeft
						if iw < 0 || iw >= inW {
							continue
						}
						inBase := ((n*inH+ih)*inW + iw) * inC
						kernelBase := (kh*kernelW + kw) * inC
						for ci := range inC {
							inValue := input[inBase+ci]
							kernelCiBase := (kernelBase + ci) * outC
							for co := range outC {
								output[outBase+co] += inValue * kernel[kernelCiBase+co]
							}
						}
					}
				}
			}
		}
	}
}

// execConvGradInputGeneric distributes gradOutput back through the kernel: it
// visits the same (input, kernel, output) index triples as the forward pass
// and accumulates on the input side instead.
func execConvGradInputGeneric[T floatPODConstraints](gradInput, kernel, gradOutput []T, inDims, kernelDims, outDims []int, data *convNode) {
	inH, inW, inC := inDims[1], inDims[2], inDims[3]
	kernelH, kernelW, outC := kernelDims[0], kernelDims[1], kernelDims[3]
	outH, outW := outDims[1], outDims[2]
	strideH, strideW := data.strides[0], data.strides[1]
	padTop, padLeft := data.paddings[0][0], data.paddings[1][0]
	dilationH, dilationW := data.dilations[0], data.dilations[1]
	clear(gradInput)
	for n := range outDims[0] {
		for oh := range outH {
			for ow := range outW {
				outBase := ((n*outH+oh)*outW + ow) * outC
				for kh := range kernelH {
					ih := oh*strideH + kh*dilationH - padTop
					if ih < 0 || ih >= inH {
						continue
					}
					for kw := range kernelW {
						iw := ow*strideW + kw*dilationW - padLeft
						if iw < 0 || iw >= inW {
							continue
						}
						inBase := ((n*inH+ih)*inW + iw) * inC
						kernelBase := (kh*kernelW + kw) * inC
						for ci := range inC {
							kernelCiBase := (kernelBase + ci) * outC
							var sum T
							for co := range outC {
								sum += kernel[kernelCiBase+co] * gradOutput[outBase+co]
							}
							gradInput[inBase+ci] += sum
						}
					}
				}
			}
		}
	}
}

// execConvGradKernelGeneric accumulates gradKernel[kh, kw, ci, co] = sum over
// n, oh, ow of input[n, ih, iw, ci] * gradOutput[n, oh, ow, co], again over
// the same index triples as the forward pass.
func execConvGradKernelGeneric[T floatPODConstraints](input, gradKernel, gradOutput []T, inDims, kernelDims, outDims []int, data *convNode) {
	inH, inW, inC := inDims[1], inDims[2], inDims[3]
	kernelH, kernelW, outC := kernelDims[0], kernelDims[1], kernelDims[3]
	outH, outW := outDims[1], outDims[2]
	strideH, strideW := data.strides[0], data.strides[1]
	padTop, padLeft := data.paddings[0][0], data.paddings[1][0]
	dilationH, dilationW := data.dilations[0], data.dilations[1]
	clear(gradKernel)
	for n := range outDims[0] {
		for oh := range outH {
			for ow := range outW {
				outBase := ((n*outH+oh)*outW + ow) * outC
				for kh := range kernelH {
					ih := oh*strideH + kh*dilationH - padTop
					if ih < 0 || ih >= inH {
						continue
					}
					for kw := range kernelW {
						iw := ow*strideW + kw*dilationW - padLeft
						if iw < 0 || iw >= inW {
							continue
						}
						inBase := ((n*inH+ih)*inW + iw) * inC
						kernelBase := (kh*kernelW + kw) * inC
						for ci := range inC {
							inValue := input[inBase+ci]
							kernelCiBase := (kernelBase + ci) * outC
							for co := range outC {
								gradKernel[kernelCiBase+co] += inValue * gradOutput[outBase+co]
							}
						}
					}
				}
			}
		}
	}
}
