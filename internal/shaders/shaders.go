// Package shaders embeds the overlay's two programs and builds them into
// gxm.Program values: SPIR-V produced by naga plus a parameter table read
// from the WGSL declarations.
package shaders

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/naga"

	"github.com/k2io/nightshade/gxm"
)

//go:embed rgba_v.wgsl
var vertexSource string

//go:embed rgba_f.wgsl
var fragmentSource string

// Parameter names the overlay resolves.
const (
	PositionAttribute = "aPosition"
	ColorUniform      = "color"
	TransformUniform  = "wvp"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

var (
	// ErrCompile means naga rejected a shader.
	ErrCompile = errors.New("shaders: compile failed")
	// ErrReflect means the parameter table could not be derived.
	ErrReflect = errors.New("shaders: cannot reflect parameters")
)

var (
	loadOnce sync.Once
	vertex   *gxm.Program
	fragment *gxm.Program
	loadErr  error
)

// Load compiles the embedded programs once and returns them.
func Load() (*gxm.Program, *gxm.Program, error) {
	loadOnce.Do(func() {
		vertex, loadErr = Compile("rgba_v", gxm.ProgramTypeVertex, vertexSource)
		if loadErr != nil {
			return
		}
		fragment, loadErr = Compile("rgba_f", gxm.ProgramTypeFragment, fragmentSource)
	})
	return vertex, fragment, loadErr
}

// Compile turns WGSL source into a program of type typ.
func Compile(name string, typ gxm.ProgramType, source string) (*gxm.Program, error) {
	code, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCompile, name, err)
	}
	if !IsSPIRV(code) {
		return nil, fmt.Errorf("%w: %s: output is not SPIR-V", ErrCompile, name)
	}
	params, err := Reflect(source, typ)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &gxm.Program{
		Name:       name,
		Type:       typ,
		Code:       code,
		Parameters: params,
	}, nil
}

// IsSPIRV reports whether code starts with the SPIR-V magic number.
func IsSPIRV(code []byte) bool {
	if len(code) < 4 {
		return false
	}
	magic := uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24
	return magic == spirvMagic
}

// VertexSource returns the embedded vertex shader source.
func VertexSource() string { return vertexSource }

// FragmentSource returns the embedded fragment shader source.
func FragmentSource() string { return fragmentSource }
