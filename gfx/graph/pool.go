// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package graph

import (
	"fmt"
	"iter"

	"golang.org/x/exp/constraints"
)

type poolSlot[T any] struct {
	value T
	live  bool
}

// Pool is a slot based store that hands out integer ids for the values
// added to it. Released slots are reused, most recently released first.
// A Pool does not own anything its values point to.
type Pool[ID constraints.Unsigned, T any] struct {
	slots []poolSlot[T]
	free  []ID
}

// Add stores v and returns the id under which it can be looked up.
func (p *Pool[ID, T]) Add(v T) ID {
	if n := len(p.free); n > 0 {
		id := p.free[n-1]
		p.free = p.free[:n-1]
		p.slots[id] = poolSlot[T]{value: v, live: true}
		return id
	}
	if uint64(len(p.slots)) > uint64(^ID(0)) {
		panic(fmt.Sprintf("graph: pool of %T ids is full", ID(0)))
	}
	p.slots = append(p.slots, poolSlot[T]{value: v, live: true})
	return ID(len(p.slots) - 1)
}

// Release frees the slot of id so a later Add may reuse it.
func (p *Pool[ID, T]) Release(id ID) {
	slot := p.slot(id)
	*slot = poolSlot[T]{}
	p.free = append(p.free, id)
}

// Get returns the value stored under id. The pointer stays valid until
// the next Add.
func (p *Pool[ID, T]) Get(id ID) *T {
	return &p.slot(id).value
}

// Live reports whether id refers to a value that has not been released.
func (p *Pool[ID, T]) Live(id ID) bool {
	return uint64(id) < uint64(len(p.slots)) && p.slots[id].live
}

// Len returns the number of live values.
func (p *Pool[ID, T]) Len() int {
	return len(p.slots) - len(p.free)
}

// All iterates live values in id order.
func (p *Pool[ID, T]) All() iter.Seq2[ID, *T] {
	return func(yield func(ID, *T) bool) {
		for i := range p.slots {
			if !p.slots[i].live {
				continue
			}
			if !yield(ID(i), &p.slots[i].value) {
				return
			}
		}
	}
}

func (p *Pool[ID, T]) slot(id ID) *poolSlot[T] {
	if uint64(id) >= uint64(len(p.slots)) {
		panic(fmt.Sprintf("graph: id %d out of range (%d slots)", id, len(p.slots)))
	}
	if !p.slots[id].live {
		panic(fmt.Sprintf("graph: id %d has been released", id))
	}
	return &p.slots[id]
}
