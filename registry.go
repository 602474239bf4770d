package nightshade

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/k2io/nightshade/gxm"
	"github.com/k2io/nightshade/internal/shaders"
)

// ErrSymbolResolution means a program lacks a parameter the overlay needs.
var ErrSymbolResolution = errors.New("nightshade: shader symbol not found")

// ShaderPair is the overlay's linked vertex and fragment programs and the
// parameters it writes.
type ShaderPair struct {
	VertexID   gxm.ShaderPatcherID
	FragmentID gxm.ShaderPatcherID
	Vertex     gxm.VertexProgram
	Fragment   gxm.FragmentProgram

	Position  *gxm.ProgramParameter
	Color     *gxm.ProgramParameter
	Transform *gxm.ProgramParameter
}

// Registry registers the overlay programs with the host's shader patcher.
type Registry struct {
	vertex   *gxm.Program
	fragment *gxm.Program

	patcher gxm.ShaderPatcher
	pair    *ShaderPair
}

// NewRegistry returns a registry for the given programs.
func NewRegistry(vertex, fragment *gxm.Program) *Registry {
	return &Registry{vertex: vertex, fragment: fragment}
}

// OnPatcherReady registers and links both programs with p. On error
// whatever was registered is released again.
func (r *Registry) OnPatcherReady(p gxm.ShaderPatcher) (err error) {
	if r.pair != nil {
		return fmt.Errorf("%w: programs already registered", gxm.ErrInvalidValue)
	}
	r.patcher = p
	pair := &ShaderPair{}
	defer func() {
		if err != nil {
			err = errors.Join(err, r.release(pair))
		}
	}()

	if pair.VertexID, err = p.RegisterProgram(r.vertex); err != nil {
		return fmt.Errorf("register %s: %w", r.vertex.Name, err)
	}
	if pair.FragmentID, err = p.RegisterProgram(r.fragment); err != nil {
		return fmt.Errorf("register %s: %w", r.fragment.Name, err)
	}

	pair.Position = r.vertex.FindParameterByName(shaders.PositionAttribute)
	pair.Transform = r.vertex.FindParameterByName(shaders.TransformUniform)
	pair.Color = r.fragment.FindParameterByName(shaders.ColorUniform)
	switch {
	case pair.Position == nil || pair.Position.Category != gxm.ParameterCategoryAttribute:
		return fmt.Errorf("%w: %s", ErrSymbolResolution, shaders.PositionAttribute)
	case pair.Transform == nil || pair.Transform.Category != gxm.ParameterCategoryUniform:
		return fmt.Errorf("%w: %s", ErrSymbolResolution, shaders.TransformUniform)
	case pair.Color == nil || pair.Color.Category != gxm.ParameterCategoryUniform:
		return fmt.Errorf("%w: %s", ErrSymbolResolution, shaders.ColorUniform)
	}

	attributes := []gxm.VertexAttribute{{
		StreamIndex: 0,
		Offset:      0,
		Format:      gputypes.VertexFormatFloat32x3,
		RegIndex:    pair.Position.ResourceIndex,
	}}
	streams := []gxm.VertexStream{{
		Stride:      vertexStride,
		IndexSource: gputypes.IndexFormatUint16,
	}}
	if pair.Vertex, err = p.CreateVertexProgram(pair.VertexID, attributes, streams); err != nil {
		return fmt.Errorf("create vertex program: %w", err)
	}
	if pair.Fragment, err = p.CreateFragmentProgram(pair.FragmentID, gputypes.TextureFormatRGBA8Unorm, gxm.MultisampleNone, nil, r.vertex); err != nil {
		return fmt.Errorf("create fragment program: %w", err)
	}

	Logger().Debug("nightshade: programs linked",
		"vertex", pair.VertexID, "fragment", pair.FragmentID)
	r.pair = pair
	return nil
}

// Pair returns the linked programs, or nil before OnPatcherReady succeeds.
func (r *Registry) Pair() *ShaderPair { return r.pair }

// Patcher returns the captured shader patcher, or nil.
func (r *Registry) Patcher() gxm.ShaderPatcher { return r.patcher }

// Release releases the linked programs and unregisters both ids.
func (r *Registry) Release() error {
	if r.pair == nil {
		return nil
	}
	err := r.release(r.pair)
	r.pair = nil
	return err
}

func (r *Registry) release(pair *ShaderPair) error {
	var errs []error
	if pair.Fragment != nil {
		errs = append(errs, r.patcher.ReleaseFragmentProgram(pair.Fragment))
	}
	if pair.Vertex != nil {
		errs = append(errs, r.patcher.ReleaseVertexProgram(pair.Vertex))
	}
	if pair.FragmentID != 0 {
		errs = append(errs, r.patcher.UnregisterProgram(pair.FragmentID))
	}
	if pair.VertexID != 0 {
		errs = append(errs, r.patcher.UnregisterProgram(pair.VertexID))
	}
	return errors.Join(errs...)
}
