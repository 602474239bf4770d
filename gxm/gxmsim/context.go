package gxmsim

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gg"
	"github.com/gogpu/gputypes"
	"golang.org/x/image/math/f32"

	"github.com/k2io/nightshade/gxm"
	"github.com/k2io/nightshade/internal/vmath"
)

// Context implements gxm.Context on the driver's framebuffer.
type Context struct {
	driver           *Driver
	vp               *vertexProgram
	fp               *fragmentProgram
	vertexUniforms   *uniformBuffer
	fragmentUniforms *uniformBuffer
	streams          map[int][]byte
}

type uniformBuffer struct {
	data []float32
}

// SetUniformDataF implements gxm.UniformBuffer.
func (u *uniformBuffer) SetUniformDataF(param *gxm.ProgramParameter, componentOffset int, data []float32) error {
	if param == nil || param.Category != gxm.ParameterCategoryUniform {
		return fmt.Errorf("%w: not a uniform", gxm.ErrInvalidValue)
	}
	if componentOffset < 0 || componentOffset+len(data) > param.Components() {
		return fmt.Errorf("%w: %d components at %d overflow %q", gxm.ErrInvalidValue, len(data), componentOffset, param.Name)
	}
	start := int(param.ResourceIndex) + componentOffset
	if start+len(data) > len(u.data) {
		return fmt.Errorf("%w: %q outside the default uniform buffer", gxm.ErrInvalidValue, param.Name)
	}
	copy(u.data[start:], data)
	return nil
}

// SetVertexProgram implements gxm.Context.
func (c *Context) SetVertexProgram(p gxm.VertexProgram) {
	c.vp, _ = p.(*vertexProgram)
	c.vertexUniforms = nil
}

// SetFragmentProgram implements gxm.Context.
func (c *Context) SetFragmentProgram(p gxm.FragmentProgram) {
	c.fp, _ = p.(*fragmentProgram)
	c.fragmentUniforms = nil
}

// ReserveVertexDefaultUniformBuffer implements gxm.Context.
func (c *Context) ReserveVertexDefaultUniformBuffer() (gxm.UniformBuffer, error) {
	if c.vp == nil {
		return nil, ErrNoProgram
	}
	c.vertexUniforms = &uniformBuffer{data: make([]float32, c.vp.program.DefaultUniformBufferSize())}
	return c.vertexUniforms, nil
}

// ReserveFragmentDefaultUniformBuffer implements gxm.Context.
func (c *Context) ReserveFragmentDefaultUniformBuffer() (gxm.UniformBuffer, error) {
	if c.fp == nil {
		return nil, ErrNoProgram
	}
	c.fragmentUniforms = &uniformBuffer{data: make([]float32, c.fp.program.DefaultUniformBufferSize())}
	return c.fragmentUniforms, nil
}

// SetVertexStream implements gxm.Context. The data must be GPU mapped.
func (c *Context) SetVertexStream(index int, data []byte) error {
	if index < 0 {
		return fmt.Errorf("%w: stream %d", gxm.ErrInvalidValue, index)
	}
	if !c.driver.isMapped(data) {
		return fmt.Errorf("%w: stream %d is not GPU mapped", gxm.ErrInvalidValue, index)
	}
	c.streams[index] = data
	return nil
}

// Clear fills the framebuffer, the way a host clears before drawing its scene.
func (c *Context) Clear(r, g, b, a float32) {
	c.driver.canvas.ClearWithColor(gg.RGBA{R: float64(r), G: float64(g), B: float64(b), A: float64(a)})
	c.driver.events = append(c.driver.events, Event{Kind: EventClear, Color: [4]float32{r, g, b, a}})
}

// Draw implements gxm.Context. The vertex stage transforms the first
// attribute by the vertex program's 4x4 uniform; the fragment stage outputs
// the fragment program's first vec4 uniform.
func (c *Context) Draw(prim gxm.PrimitiveType, format gputypes.IndexFormat, indices []byte, count int) error {
	if c.vp == nil || c.fp == nil {
		return ErrNoProgram
	}
	if len(c.vp.attributes) == 0 || len(c.vp.streams) == 0 {
		return fmt.Errorf("%w: vertex program has no attributes", gxm.ErrInvalidValue)
	}
	stream := c.vp.streams[0]
	if format != stream.IndexSource {
		return fmt.Errorf("%w: index format does not match the vertex stream", gxm.ErrInvalidValue)
	}
	if !c.driver.isMapped(indices) {
		return fmt.Errorf("%w: indices are not GPU mapped", gxm.ErrInvalidValue)
	}
	size := gxm.IndexFormatSize(format)
	if count <= 0 || len(indices) < count*size {
		return fmt.Errorf("%w: %d indices", gxm.ErrInvalidValue, count)
	}
	if c.vp.program.DefaultUniformBufferSize() > 0 && c.vertexUniforms == nil {
		return fmt.Errorf("%w: vertex uniforms not reserved", ErrNoProgram)
	}
	if c.fp.program.DefaultUniformBufferSize() > 0 && c.fragmentUniforms == nil {
		return fmt.Errorf("%w: fragment uniforms not reserved", ErrNoProgram)
	}

	attr := c.vp.attributes[0]
	data, ok := c.streams[int(attr.StreamIndex)]
	if !ok {
		return fmt.Errorf("%w: stream %d not bound", gxm.ErrInvalidValue, attr.StreamIndex)
	}
	mvp := c.transform()
	color := c.color()
	w, h := float32(c.driver.width), float32(c.driver.height)

	ev := Event{Kind: EventDraw, Primitive: prim, IndexCount: count, Color: color}
	for i := 0; i < count; i++ {
		var idx int
		if size == 2 {
			idx = int(binary.LittleEndian.Uint16(indices[i*2:]))
		} else {
			idx = int(binary.LittleEndian.Uint32(indices[i*4:]))
		}
		pos, err := readPosition(data, idx*int(c.vp.streams[attr.StreamIndex].Stride)+int(attr.Offset), attr.Format)
		if err != nil {
			return err
		}
		s := vmath.ToScreen(vmath.Transform(mvp, vmath.Point(pos)), w, h)
		ev.Positions = append(ev.Positions, [2]float32{s[0], s[1]})
	}
	if err := c.rasterize(prim, ev.Positions, color); err != nil {
		return err
	}
	c.driver.events = append(c.driver.events, ev)
	return nil
}

func (c *Context) transform() f32.Mat4 {
	for _, p := range c.vp.program.Parameters {
		if p.Category == gxm.ParameterCategoryUniform && p.Components() == 16 {
			var m f32.Mat4
			copy(m[:], c.vertexUniforms.data[p.ResourceIndex:])
			return m
		}
	}
	return vmath.Identity()
}

func (c *Context) color() [4]float32 {
	for _, p := range c.fp.program.Parameters {
		if p.Category == gxm.ParameterCategoryUniform && p.Components() == 4 {
			var col [4]float32
			copy(col[:], c.fragmentUniforms.data[p.ResourceIndex:])
			return col
		}
	}
	return [4]float32{1, 1, 1, 1}
}

func (c *Context) rasterize(prim gxm.PrimitiveType, pts [][2]float32, color [4]float32) error {
	var tris [][3][2]float32
	switch prim {
	case gxm.PrimitiveTriangles:
		for i := 0; i+2 < len(pts); i += 3 {
			tris = append(tris, [3][2]float32{pts[i], pts[i+1], pts[i+2]})
		}
	case gxm.PrimitiveTriangleStrip:
		for i := 0; i+2 < len(pts); i++ {
			tris = append(tris, [3][2]float32{pts[i], pts[i+1], pts[i+2]})
		}
	case gxm.PrimitiveTriangleFan:
		for i := 1; i+1 < len(pts); i++ {
			tris = append(tris, [3][2]float32{pts[0], pts[i], pts[i+1]})
		}
	default:
		// Lines and points are logged but not rasterized.
		return nil
	}

	dc := c.driver.canvas
	dc.SetRGBA(float64(color[0]), float64(color[1]), float64(color[2]), float64(color[3]))
	for _, t := range tris {
		dc.MoveTo(float64(t[0][0]), float64(t[0][1]))
		dc.LineTo(float64(t[1][0]), float64(t[1][1]))
		dc.LineTo(float64(t[2][0]), float64(t[2][1]))
		dc.ClosePath()
	}
	return dc.Fill()
}

func readPosition(data []byte, off int, format gputypes.VertexFormat) (f32.Vec3, error) {
	n := gxm.VertexFormatSize(format)
	if off < 0 || n == 0 || off+n > len(data) {
		return f32.Vec3{}, fmt.Errorf("%w: vertex at %d outside stream", gxm.ErrInvalidValue, off)
	}
	var p f32.Vec3
	for i := 0; i < n/4 && i < 3; i++ {
		p[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off+4*i:]))
	}
	return p, nil
}
