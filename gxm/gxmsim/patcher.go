package gxmsim

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/k2io/nightshade/gxm"
)

// ShaderPatcher implements gxm.ShaderPatcher.
type ShaderPatcher struct {
	driver   *Driver
	programs map[gxm.ShaderPatcherID]*gxm.Program
	nextID   gxm.ShaderPatcherID
	vertex   map[*vertexProgram]struct{}
	fragment map[*fragmentProgram]struct{}
}

type vertexProgram struct {
	id         gxm.ShaderPatcherID
	program    *gxm.Program
	attributes []gxm.VertexAttribute
	streams    []gxm.VertexStream
}

func (p *vertexProgram) ProgramID() gxm.ShaderPatcherID { return p.id }

type fragmentProgram struct {
	id      gxm.ShaderPatcherID
	program *gxm.Program
	output  gputypes.TextureFormat
}

func (p *fragmentProgram) ProgramID() gxm.ShaderPatcherID { return p.id }

// RegisterProgram implements gxm.ShaderPatcher. Programs must carry a
// SPIR-V binary.
func (s *ShaderPatcher) RegisterProgram(p *gxm.Program) (gxm.ShaderPatcherID, error) {
	if s.driver.FailRegister {
		return 0, ErrInjected
	}
	if p == nil || !isSPIRV(p.Code) {
		return 0, ErrInvalidProgram
	}
	s.nextID++
	s.programs[s.nextID] = p
	return s.nextID, nil
}

// UnregisterProgram implements gxm.ShaderPatcher.
func (s *ShaderPatcher) UnregisterProgram(id gxm.ShaderPatcherID) error {
	if _, ok := s.programs[id]; !ok {
		return fmt.Errorf("%w: program %d", gxm.ErrNotFound, id)
	}
	for v := range s.vertex {
		if v.id == id {
			return fmt.Errorf("%w: program %d still linked", gxm.ErrInvalidValue, id)
		}
	}
	for f := range s.fragment {
		if f.id == id {
			return fmt.Errorf("%w: program %d still linked", gxm.ErrInvalidValue, id)
		}
	}
	delete(s.programs, id)
	return nil
}

// CreateVertexProgram implements gxm.ShaderPatcher.
func (s *ShaderPatcher) CreateVertexProgram(id gxm.ShaderPatcherID, attributes []gxm.VertexAttribute, streams []gxm.VertexStream) (gxm.VertexProgram, error) {
	p, ok := s.programs[id]
	if !ok {
		return nil, fmt.Errorf("%w: program %d", gxm.ErrNotFound, id)
	}
	if p.Type != gxm.ProgramTypeVertex {
		return nil, fmt.Errorf("%w: program %d is not a vertex program", gxm.ErrInvalidValue, id)
	}
	for _, a := range attributes {
		if int(a.StreamIndex) >= len(streams) {
			return nil, fmt.Errorf("%w: attribute uses stream %d of %d", gxm.ErrInvalidValue, a.StreamIndex, len(streams))
		}
		if gxm.VertexFormatSize(a.Format) == 0 {
			return nil, fmt.Errorf("%w: unsupported attribute format", gxm.ErrInvalidValue)
		}
		if !hasAttribute(p, a.RegIndex) {
			return nil, fmt.Errorf("%w: no attribute on register %d", gxm.ErrInvalidValue, a.RegIndex)
		}
	}
	v := &vertexProgram{
		id:         id,
		program:    p,
		attributes: append([]gxm.VertexAttribute(nil), attributes...),
		streams:    append([]gxm.VertexStream(nil), streams...),
	}
	s.vertex[v] = struct{}{}
	return v, nil
}

// CreateFragmentProgram implements gxm.ShaderPatcher.
func (s *ShaderPatcher) CreateFragmentProgram(id gxm.ShaderPatcherID, output gputypes.TextureFormat, ms gxm.MultisampleMode, blend *gxm.BlendInfo, vertex *gxm.Program) (gxm.FragmentProgram, error) {
	p, ok := s.programs[id]
	if !ok {
		return nil, fmt.Errorf("%w: program %d", gxm.ErrNotFound, id)
	}
	if p.Type != gxm.ProgramTypeFragment {
		return nil, fmt.Errorf("%w: program %d is not a fragment program", gxm.ErrInvalidValue, id)
	}
	if ms != gxm.MultisampleNone {
		return nil, fmt.Errorf("%w: multisampling is not simulated", gxm.ErrInvalidValue)
	}
	if output != gputypes.TextureFormatRGBA8Unorm {
		return nil, fmt.Errorf("%w: unsupported output format", gxm.ErrInvalidValue)
	}
	if vertex != nil && vertex.Type != gxm.ProgramTypeVertex {
		return nil, fmt.Errorf("%w: linked program is not a vertex program", gxm.ErrInvalidValue)
	}
	f := &fragmentProgram{id: id, program: p, output: output}
	s.fragment[f] = struct{}{}
	return f, nil
}

// ReleaseVertexProgram implements gxm.ShaderPatcher.
func (s *ShaderPatcher) ReleaseVertexProgram(p gxm.VertexProgram) error {
	v, ok := p.(*vertexProgram)
	if !ok {
		return gxm.ErrInvalidValue
	}
	if _, ok := s.vertex[v]; !ok {
		return gxm.ErrNotFound
	}
	delete(s.vertex, v)
	return nil
}

// ReleaseFragmentProgram implements gxm.ShaderPatcher.
func (s *ShaderPatcher) ReleaseFragmentProgram(p gxm.FragmentProgram) error {
	f, ok := p.(*fragmentProgram)
	if !ok {
		return gxm.ErrInvalidValue
	}
	if _, ok := s.fragment[f]; !ok {
		return gxm.ErrNotFound
	}
	delete(s.fragment, f)
	return nil
}

// Registered returns the number of registered programs.
func (s *ShaderPatcher) Registered() int { return len(s.programs) }

// Linked returns the number of live vertex and fragment programs.
func (s *ShaderPatcher) Linked() int { return len(s.vertex) + len(s.fragment) }

func hasAttribute(p *gxm.Program, reg uint32) bool {
	for _, q := range p.Parameters {
		if q.Category == gxm.ParameterCategoryAttribute && q.ResourceIndex == reg {
			return true
		}
	}
	return false
}

func isSPIRV(code []byte) bool {
	return len(code) >= 4 && code[0] == 0x03 && code[1] == 0x02 && code[2] == 0x23 && code[3] == 0x07
}
