package shaders

import (
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"

	"github.com/k2io/nightshade/gxm"
)

// Reflect derives the parameter table of a program from its WGSL source.
// Uniform variables share one default buffer in declaration order, each
// starting on a vec4 boundary, with struct members at the offsets naga
// computed. Vertex programs also get one attribute per @location input of
// the @vertex entry point.
func Reflect(source string, typ gxm.ProgramType) ([]gxm.ProgramParameter, error) {
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReflect, err)
	}
	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReflect, err)
	}

	t := table{module: module, seen: make(map[string]bool)}
	if err := t.uniforms(); err != nil {
		return nil, err
	}
	if typ == gxm.ProgramTypeVertex {
		if err := t.attributes(); err != nil {
			return nil, err
		}
	}
	return t.params, nil
}

type table struct {
	module *ir.Module
	params []gxm.ProgramParameter
	seen   map[string]bool
}

func (t *table) add(p gxm.ProgramParameter) error {
	if t.seen[p.Name] {
		return fmt.Errorf("%w: duplicate parameter %q", ErrReflect, p.Name)
	}
	t.seen[p.Name] = true
	t.params = append(t.params, p)
	return nil
}

// uniforms lays out every var<uniform> in word offsets.
func (t *table) uniforms() error {
	offset := uint32(0)
	for _, g := range t.module.GlobalVariables {
		if g.Space != ir.SpaceUniform {
			continue
		}
		base := roundUp(offset, 4)
		size := ir.TypeSize(t.module, g.Type)
		if size == 0 {
			return fmt.Errorf("%w: uniform %q has no fixed size", ErrReflect, g.Name)
		}
		if st, ok := t.module.Types[g.Type].Inner.(ir.StructType); ok {
			for _, m := range st.Members {
				if err := t.uniform(m.Name, m.Type, base+m.Offset/4); err != nil {
					return err
				}
			}
		} else if err := t.uniform(g.Name, g.Type, base); err != nil {
			return err
		}
		offset = base + roundUp(size, 4)/4
	}
	return nil
}

func (t *table) uniform(name string, typ ir.TypeHandle, index uint32) error {
	comps, count, err := t.shape(name, typ)
	if err != nil {
		return err
	}
	return t.add(gxm.ProgramParameter{
		Name:           name,
		Category:       gxm.ParameterCategoryUniform,
		ComponentCount: comps,
		ArraySize:      count,
		ResourceIndex:  index,
	})
}

// shape returns the words per element and the element count of typ.
func (t *table) shape(name string, typ ir.TypeHandle) (uint32, uint32, error) {
	if arr, ok := t.module.Types[typ].Inner.(ir.ArrayType); ok {
		if arr.Size.Constant == nil {
			return 0, 0, fmt.Errorf("%w: %q is a runtime-sized array", ErrReflect, name)
		}
		return arr.Stride / 4, *arr.Size.Constant, nil
	}
	size := ir.TypeSize(t.module, typ)
	if size == 0 {
		return 0, 0, fmt.Errorf("%w: %q has no fixed size", ErrReflect, name)
	}
	return roundUp(size, 4) / 4, 1, nil
}

// attributes adds the @location inputs of the vertex entry point, either
// bound on the arguments themselves or on the members of a struct argument.
func (t *table) attributes() error {
	var entry *ir.EntryPoint
	for i := range t.module.EntryPoints {
		if t.module.EntryPoints[i].Stage == ir.StageVertex {
			entry = &t.module.EntryPoints[i]
			break
		}
	}
	if entry == nil {
		return fmt.Errorf("%w: no @vertex entry point", ErrReflect)
	}
	for _, arg := range entry.Function.Arguments {
		if arg.Binding != nil {
			if err := t.attribute(arg.Name, arg.Type, *arg.Binding); err != nil {
				return err
			}
			continue
		}
		st, ok := t.module.Types[arg.Type].Inner.(ir.StructType)
		if !ok {
			return fmt.Errorf("%w: input %q has no binding", ErrReflect, arg.Name)
		}
		for _, m := range st.Members {
			if m.Binding == nil {
				continue
			}
			if err := t.attribute(m.Name, m.Type, *m.Binding); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *table) attribute(name string, typ ir.TypeHandle, b ir.Binding) error {
	var location uint32
	switch lb := b.(type) {
	case ir.LocationBinding:
		location = lb.Location
	case *ir.LocationBinding:
		location = lb.Location
	default:
		// builtins are fed by the hardware
		return nil
	}
	size := ir.TypeSize(t.module, typ)
	if size == 0 {
		return fmt.Errorf("%w: attribute %q has no fixed size", ErrReflect, name)
	}
	return t.add(gxm.ProgramParameter{
		Name:           name,
		Category:       gxm.ParameterCategoryAttribute,
		ComponentCount: roundUp(size, 4) / 4,
		ArraySize:      1,
		ResourceIndex:  location,
	})
}

func roundUp(n, align uint32) uint32 {
	return (n + align - 1) / align * align
}
