package nightshade

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"golang.org/x/image/math/f32"

	"github.com/k2io/nightshade/gxm"
	"github.com/k2io/nightshade/internal/gpumem"
	"github.com/k2io/nightshade/internal/vmath"
)

const (
	vertexCount = 4
	// three float32 coordinates per vertex
	vertexStride = 12
	indexCount   = 4
	overlayDepth = 0.5
)

// Store holds the overlay quad in GPU memory together with its color and
// transform.
type Store struct {
	alloc    *gpumem.Allocator
	vertices *gpumem.Allocation
	indices  *gpumem.Allocation

	Color     f32.Vec4
	Transform f32.Mat4
}

// NewStore returns an empty store allocating from a.
func NewStore(a *gpumem.Allocator) *Store {
	return &Store{alloc: a}
}

// SetColor sets the overlay RGB, keeping the alpha.
func (s *Store) SetColor(r, g, b float32) {
	s.Color[0], s.Color[1], s.Color[2] = r, g, b
}

// SetAlpha sets the overlay opacity.
func (s *Store) SetAlpha(a float32) {
	s.Color[3] = a
}

// InitializeDefaults allocates the quad covering a width x height screen
// and computes the transform mapping screen coordinates to clip space.
func (s *Store) InitializeDefaults(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: screen %dx%d", gxm.ErrInvalidValue, width, height)
	}
	if s.vertices != nil {
		return fmt.Errorf("%w: geometry already initialized", gxm.ErrInvalidValue)
	}

	vertices, err := s.alloc.Alloc(gxm.MemBlockUserRW, gxm.MemoryAttribRead, vertexCount*vertexStride)
	if err != nil {
		return fmt.Errorf("vertex buffer: %w", err)
	}
	indices, err := s.alloc.Alloc(gxm.MemBlockUserRW, gxm.MemoryAttribRead, indexCount*2)
	if err != nil {
		return errors.Join(fmt.Errorf("index buffer: %w", err), vertices.Free())
	}

	w, h := float32(width), float32(height)
	quad := [vertexCount]f32.Vec3{
		{0, 0, overlayDepth},
		{0, h, overlayDepth},
		{w, h, overlayDepth},
		{w, 0, overlayDepth},
	}
	for i, v := range quad {
		for j, c := range v {
			binary.LittleEndian.PutUint32(vertices.Base[i*vertexStride+j*4:], math.Float32bits(c))
		}
	}
	for i := 0; i < indexCount; i++ {
		binary.LittleEndian.PutUint16(indices.Base[i*2:], uint16(i))
	}

	s.vertices, s.indices = vertices, indices
	s.Transform = vmath.Mul(vmath.Ortho(0, w, h, 0, -1, 1), vmath.Identity())
	Logger().Debug("nightshade: geometry ready",
		"vertexBytes", vertices.Size, "indexBytes", indices.Size)
	return nil
}

// Ready reports whether the geometry has been initialized.
func (s *Store) Ready() bool { return s.vertices != nil }

// Vertices returns the vertex buffer memory.
func (s *Store) Vertices() []byte {
	if s.vertices == nil {
		return nil
	}
	return s.vertices.Base[:vertexCount*vertexStride]
}

// Indices returns the index buffer memory.
func (s *Store) Indices() []byte {
	if s.indices == nil {
		return nil
	}
	return s.indices.Base[:indexCount*2]
}

// Vertex returns the i'th quad corner, or the zero vector before the buffers
// exist or for an index outside the quad.
func (s *Store) Vertex(i int) f32.Vec3 {
	var v f32.Vec3
	if !s.Ready() || i < 0 || i >= vertexCount {
		return v
	}
	b := s.Vertices()[i*vertexStride:]
	for j := range v {
		v[j] = math.Float32frombits(binary.LittleEndian.Uint32(b[j*4:]))
	}
	return v
}

// Index returns the i'th index, or 0 before the buffers exist or out of range.
func (s *Store) Index(i int) uint16 {
	if s.indices == nil || i < 0 || i >= indexCount {
		return 0
	}
	return binary.LittleEndian.Uint16(s.Indices()[i*2:])
}

// Release frees the geometry buffers.
func (s *Store) Release() error {
	var errs []error
	if s.indices != nil {
		errs = append(errs, s.indices.Free())
		s.indices = nil
	}
	if s.vertices != nil {
		errs = append(errs, s.vertices.Free())
		s.vertices = nil
	}
	return errors.Join(errs...)
}
