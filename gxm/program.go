package gxm

// ProgramType tells vertex and fragment programs apart.
type ProgramType uint8

const (
	ProgramTypeVertex ProgramType = iota
	ProgramTypeFragment
)

func (t ProgramType) String() string {
	if t == ProgramTypeVertex {
		return "vertex"
	}
	return "fragment"
}

// ParameterCategory is the kind of a program parameter.
type ParameterCategory uint8

const (
	ParameterCategoryAttribute ParameterCategory = iota
	ParameterCategoryUniform
)

// ProgramParameter is a named input of a compiled program.
//
// For attributes ResourceIndex is the input register; for uniforms it is the
// offset, in 32-bit words, into the program's default uniform buffer.
type ProgramParameter struct {
	Name           string
	Category       ParameterCategory
	ComponentCount uint32
	ArraySize      uint32
	ResourceIndex  uint32
}

// Components returns the total number of 32-bit components the parameter
// occupies.
func (p *ProgramParameter) Components() int {
	n := int(p.ComponentCount)
	if p.ArraySize > 1 {
		n *= int(p.ArraySize)
	}
	return n
}

// Program is a compiled shader binary together with its parameter table.
// Code is opaque to everything but the driver.
type Program struct {
	Name       string
	Type       ProgramType
	Code       []byte
	Parameters []ProgramParameter
}

// FindParameterByName returns the parameter called name, or nil.
func (p *Program) FindParameterByName(name string) *ProgramParameter {
	for i := range p.Parameters {
		if p.Parameters[i].Name == name {
			return &p.Parameters[i]
		}
	}
	return nil
}

// DefaultUniformBufferSize returns the number of 32-bit words the program's
// default uniform buffer must hold.
func (p *Program) DefaultUniformBufferSize() int {
	size := 0
	for i := range p.Parameters {
		q := &p.Parameters[i]
		if q.Category != ParameterCategoryUniform {
			continue
		}
		if end := int(q.ResourceIndex) + q.Components(); end > size {
			size = end
		}
	}
	return size
}
