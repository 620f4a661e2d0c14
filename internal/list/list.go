// Package list implements a generic doubly linked list used for the
// host's bookkeeping: tracked worker processes in the supervisor and
// in-flight sessions inside a worker.
//
// A list can own its values.  When a Dup hook is set every inserted
// value is copied through it; when a Free hook is set it runs for every
// value that leaves the list through Remove, Clear or Free.  Hooks are
// fixed at construction.
package list

// Node is an element of a List.
type Node[T any] struct {
	Value T

	prev, next *Node[T]
}

// Next returns the following node or nil.
func (n *Node[T]) Next() *Node[T] { return n.next }

// Prev returns the preceding node or nil.
func (n *Node[T]) Prev() *Node[T] { return n.prev }

// Options configures value ownership for a List.
type Options[T any] struct {
	// Dup copies a value on insertion.
	Dup func(T) T
	// Free releases a value when it leaves the list.
	Free func(T)
	// Match reports whether a stored value matches a search key.
	// When nil, Search falls back to Equal.
	Match func(value, key T) bool
	// Equal is the fallback comparison used when Match is nil.
	Equal func(a, b T) bool
}

// List is a doubly linked list.  The zero value is not usable; call New.
type List[T any] struct {
	first, last *Node[T]
	length      int
	opts        Options[T]
}

// New creates an empty list with the given ownership hooks.
func New[T any](opts Options[T]) *List[T] {
	return &List[T]{opts: opts}
}

// Len returns the number of elements.
func (l *List[T]) Len() int { return l.length }

// First returns the head node or nil.
func (l *List[T]) First() *Node[T] { return l.first }

// Last returns the tail node or nil.
func (l *List[T]) Last() *Node[T] { return l.last }

// Owned reports whether the list copies and frees its values.
func (l *List[T]) Owned() bool {
	return l.opts.Dup != nil && l.opts.Free != nil
}

// PushBack appends v at the tail.
func (l *List[T]) PushBack(v T) *Node[T] {
	n := &Node[T]{Value: l.dup(v)}
	if l.last == nil {
		l.first, l.last = n, n
	} else {
		n.prev = l.last
		l.last.next = n
		l.last = n
	}
	l.length++
	return n
}

// PushFront inserts v at the head.
func (l *List[T]) PushFront(v T) *Node[T] {
	n := &Node[T]{Value: l.dup(v)}
	if l.first == nil {
		l.first, l.last = n, n
	} else {
		n.next = l.first
		l.first.prev = n
		l.first = n
	}
	l.length++
	return n
}

// Remove unlinks n and releases its value.
func (l *List[T]) Remove(n *Node[T]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.first = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.last = n.prev
	}
	n.prev, n.next = nil, nil
	l.free(n.Value)
	l.length--
}

// Rotate moves the head node to the tail.  Lists shorter than two
// elements are left unchanged.
func (l *List[T]) Rotate() {
	if l.length < 2 {
		return
	}
	head := l.first
	l.first = head.next
	l.first.prev = nil

	head.prev = l.last
	head.next = nil
	l.last.next = head
	l.last = head
}

// Search returns the first node, from the head, whose value matches
// key, or nil.
func (l *List[T]) Search(key T) *Node[T] {
	match := l.opts.Match
	if match == nil {
		match = l.opts.Equal
	}
	if match == nil {
		return nil
	}
	for n := l.first; n != nil; n = n.next {
		if match(n.Value, key) {
			return n
		}
	}
	return nil
}

// Each calls fn for every value from head to tail.
func (l *List[T]) Each(fn func(T)) {
	for n := l.first; n != nil; n = n.next {
		fn(n.Value)
	}
}

// Values returns a snapshot of the values from head to tail.
func (l *List[T]) Values() []T {
	out := make([]T, 0, l.length)
	l.Each(func(v T) { out = append(out, v) })
	return out
}

// Clear removes every element, releasing owned values.
func (l *List[T]) Clear() {
	n := l.first
	for n != nil {
		next := n.next
		l.free(n.Value)
		n.prev, n.next = nil, nil
		n = next
	}
	l.first, l.last = nil, nil
	l.length = 0
}

// Free is Clear; the list stays usable afterwards.
func (l *List[T]) Free() { l.Clear() }

func (l *List[T]) dup(v T) T {
	if l.opts.Dup != nil {
		return l.opts.Dup(v)
	}
	return v
}

func (l *List[T]) free(v T) {
	if l.opts.Free != nil {
		l.opts.Free(v)
	}
}

// ── Iteration ────────────────────────────────────────────────────────

// Direction selects the iteration order.
type Direction int

const (
	FromHead Direction = iota
	FromTail
)

// Iterator walks a list in one direction.  It is safe to Remove the
// node most recently returned by Next.
type Iterator[T any] struct {
	next *Node[T]
	dir  Direction
}

// Iterator returns an iterator positioned before the first element in
// the given direction.
func (l *List[T]) Iterator(dir Direction) *Iterator[T] {
	it := &Iterator[T]{dir: dir}
	if dir == FromHead {
		it.next = l.first
	} else {
		it.next = l.last
	}
	return it
}

// Next returns the next node or nil when the iteration is done.
func (it *Iterator[T]) Next() *Node[T] {
	cur := it.next
	if cur == nil {
		return nil
	}
	if it.dir == FromHead {
		it.next = cur.next
	} else {
		it.next = cur.prev
	}
	return cur
}
