// Package vmath holds the little 4x4 matrix math the overlay needs.
//
// Matrices are f32.Mat4 values in row major order: m[4*r+c] is row r,
// column c. Vectors are column vectors, so Transform computes m·v.
package vmath

import "golang.org/x/image/math/f32"

// Identity returns the identity matrix.
func Identity() f32.Mat4 {
	return f32.Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Ortho returns an orthographic projection mapping the box
// [left,right]x[bottom,top]x[near,far] onto clip space.
func Ortho(left, right, bottom, top, near, far float32) f32.Mat4 {
	rl := right - left
	tb := top - bottom
	fn := far - near
	return f32.Mat4{
		2 / rl, 0, 0, -(right + left) / rl,
		0, 2 / tb, 0, -(top + bottom) / tb,
		0, 0, -2 / fn, -(far + near) / fn,
		0, 0, 0, 1,
	}
}

// Mul returns a·b.
func Mul(a, b f32.Mat4) f32.Mat4 {
	var m f32.Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			var s float32
			for k := 0; k < 4; k++ {
				s += a[4*r+k] * b[4*k+c]
			}
			m[4*r+c] = s
		}
	}
	return m
}

// Transform returns m·v.
func Transform(m f32.Mat4, v f32.Vec4) f32.Vec4 {
	var out f32.Vec4
	for r := 0; r < 4; r++ {
		out[r] = m[4*r]*v[0] + m[4*r+1]*v[1] + m[4*r+2]*v[2] + m[4*r+3]*v[3]
	}
	return out
}

// Point lifts a position to homogeneous coordinates.
func Point(p f32.Vec3) f32.Vec4 {
	return f32.Vec4{p[0], p[1], p[2], 1}
}

// ToScreen divides clip by w and maps the result onto a width x height
// viewport whose origin is the top-left corner.
func ToScreen(clip f32.Vec4, width, height float32) f32.Vec2 {
	w := clip[3]
	if w == 0 {
		w = 1
	}
	x, y := clip[0]/w, clip[1]/w
	return f32.Vec2{
		(x + 1) / 2 * width,
		(1 - y) / 2 * height,
	}
}
