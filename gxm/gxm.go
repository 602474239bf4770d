// Package gxm describes the surface of the host graphics driver the overlay
// plugs into: the two intercepted entry points, the shader patcher, the
// rendering context and the kernel memory services behind GPU buffers.
//
// Nothing in this package talks to hardware. Hosts provide implementations;
// gxmsim provides a software one.
package gxm

import (
	"errors"

	"github.com/gogpu/gputypes"
)

// Entry-point NIDs as they appear in the host's import table.
const (
	NIDShaderPatcherCreate uint32 = 0x05032658
	NIDEndScene            uint32 = 0xFE300E2F
)

// EntryPointNames maps the intercepted NIDs to their exported symbol names.
var EntryPointNames = map[uint32]string{
	NIDShaderPatcherCreate: "sceGxmShaderPatcherCreate",
	NIDEndScene:            "sceGxmEndScene",
}

// ShaderPatcherCreateFunc creates the host's shader patcher.
type ShaderPatcherCreateFunc func(params *ShaderPatcherParams) (ShaderPatcher, error)

// EndSceneFunc closes the current scene and submits it to the GPU.
type EndSceneFunc func(ctx Context, vertexNotification, fragmentNotification *Notification) error

var (
	// ErrInvalidValue is returned for arguments a driver rejects.
	ErrInvalidValue = errors.New("gxm: invalid value")
	// ErrNotFound is returned for unknown ids or handles.
	ErrNotFound = errors.New("gxm: not found")
)

// ShaderPatcherParams carries the creation parameters of a shader patcher.
type ShaderPatcherParams struct {
	UserData            any
	BufferMemSize       int
	VertexUSSEMemSize   int
	FragmentUSSEMemSize int
}

// Notification is written by the GPU once a stage of the scene completes.
type Notification struct {
	Address *uint32
	Value   uint32
}

// ShaderPatcherID identifies a program registered with a shader patcher.
type ShaderPatcherID uint32

// MultisampleMode selects the multisample mode a fragment program is patched for.
type MultisampleMode uint8

const (
	MultisampleNone MultisampleMode = iota
	Multisample2x
	Multisample4x
)

// PrimitiveType is the topology of a draw call.
type PrimitiveType uint8

const (
	PrimitiveTriangles PrimitiveType = iota
	PrimitiveLines
	PrimitivePoints
	PrimitiveTriangleStrip
	PrimitiveTriangleFan
	PrimitiveTriangleEdges
)

func (p PrimitiveType) String() string {
	switch p {
	case PrimitiveTriangles:
		return "triangles"
	case PrimitiveLines:
		return "lines"
	case PrimitivePoints:
		return "points"
	case PrimitiveTriangleStrip:
		return "triangle-strip"
	case PrimitiveTriangleFan:
		return "triangle-fan"
	case PrimitiveTriangleEdges:
		return "triangle-edges"
	}
	return "unknown"
}

// BlendInfo overrides the blend state a fragment program is patched with.
// A nil *BlendInfo keeps the program's own state.
type BlendInfo struct {
	ColorMask uint8
	ColorFunc uint8
	AlphaFunc uint8
}

// VertexAttribute binds a vertex program input register to a stream.
type VertexAttribute struct {
	StreamIndex uint16
	Offset      uint16
	Format      gputypes.VertexFormat
	RegIndex    uint32
}

// VertexStream describes the layout of one bound vertex stream.
type VertexStream struct {
	Stride      uint16
	IndexSource gputypes.IndexFormat
}

// VertexProgram is a patched vertex program owned by a ShaderPatcher.
type VertexProgram interface {
	ProgramID() ShaderPatcherID
}

// FragmentProgram is a patched fragment program owned by a ShaderPatcher.
type FragmentProgram interface {
	ProgramID() ShaderPatcherID
}

// ShaderPatcher registers programs and links them into bindable objects.
type ShaderPatcher interface {
	RegisterProgram(p *Program) (ShaderPatcherID, error)
	UnregisterProgram(id ShaderPatcherID) error
	CreateVertexProgram(id ShaderPatcherID, attributes []VertexAttribute, streams []VertexStream) (VertexProgram, error)
	CreateFragmentProgram(id ShaderPatcherID, output gputypes.TextureFormat, ms MultisampleMode, blend *BlendInfo, vertex *Program) (FragmentProgram, error)
	ReleaseVertexProgram(p VertexProgram) error
	ReleaseFragmentProgram(p FragmentProgram) error
}

// UniformBuffer is a default uniform buffer reserved for the current draw.
type UniformBuffer interface {
	// SetUniformDataF writes data into param, starting componentOffset
	// floats past the parameter's first component.
	SetUniformDataF(param *ProgramParameter, componentOffset int, data []float32) error
}

// Context records rendering commands for the scene in progress.
type Context interface {
	SetVertexProgram(p VertexProgram)
	SetFragmentProgram(p FragmentProgram)
	ReserveVertexDefaultUniformBuffer() (UniformBuffer, error)
	ReserveFragmentDefaultUniformBuffer() (UniformBuffer, error)
	SetVertexStream(index int, data []byte) error
	Draw(prim PrimitiveType, format gputypes.IndexFormat, indices []byte, count int) error
}

// VertexFormatSize returns the size in bytes of one attribute of format f,
// or 0 for formats the overlay never uses.
func VertexFormatSize(f gputypes.VertexFormat) int {
	switch f {
	case gputypes.VertexFormatFloat32:
		return 4
	case gputypes.VertexFormatFloat32x2:
		return 8
	case gputypes.VertexFormatFloat32x3:
		return 12
	case gputypes.VertexFormatFloat32x4:
		return 16
	}
	return 0
}

// IndexFormatSize returns the size in bytes of one index.
func IndexFormatSize(f gputypes.IndexFormat) int {
	if f == gputypes.IndexFormatUint16 {
		return 2
	}
	return 4
}
