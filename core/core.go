// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package core holds the engine services around the renderer:
// configuration, logging and timing.
package core
