// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package gfx defines rendering related features that renderers must implement.
package gfx

// Releasable defines any memory-occupying item that can be freed.
type Releasable interface {

	// Release releases memory occupied by the implementing structure.
	Release()
}

// ReleaseFunc adapts a plain function to Releasable.
type ReleaseFunc func()

// Release implements interface
func (f ReleaseFunc) Release() {
	if f != nil {
		f()
	}
}

// Extent3D is the size of an image in texels.
type Extent3D struct {
	Width, Height, Depth uint32
}

// Extent2D returns an extent of the given width and height with a depth of one.
func Extent2D(width, height uint32) Extent3D {
	return Extent3D{Width: width, Height: height, Depth: 1}
}
