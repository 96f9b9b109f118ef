package certs

import (
	"bytes"
	"sync"
)

// View is a read-only, NUL-terminated view over materialized PEM bytes.
// Its storage is owned by an Arena and is never released.
type View struct {
	b []byte
}

// Bytes returns the content followed by exactly one trailing zero byte.
// The returned slice has no spare capacity, so appending to it never writes
// into the retained storage. Callers must not modify it.
func (v View) Bytes() []byte {
	return v.b
}

// Len returns the length of the view, terminator included.
func (v View) Len() int {
	return len(v.b)
}

// PEM returns the bytes up to the first NUL, which is how TLS consumers that
// only accept a terminated buffer find the end of the content.
func (v View) PEM() []byte {
	if i := bytes.IndexByte(v.b, 0); i >= 0 {
		return v.b[:i:i]
	}
	return v.b
}

// Arena retains materialized buffers for the life of the process.
type Arena struct {
	mu       sync.Mutex
	retained [][]byte
	size     int
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// Materialize takes ownership of blob, appends a single NUL terminator and
// returns a view over the same storage. When blob has spare capacity the
// view aliases it; otherwise append grows it once and the grown buffer is
// retained instead. The caller must not use blob afterwards.
func (a *Arena) Materialize(blob []byte) View {
	blob = append(blob, 0)
	n := len(blob)

	a.mu.Lock()
	a.retained = append(a.retained, blob)
	a.size += n
	a.mu.Unlock()

	return View{b: blob[:n:n]}
}

// Retained returns how many buffers the arena holds.
func (a *Arena) Retained() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.retained)
}

// Size returns the total bytes held by the arena, terminators included.
func (a *Arena) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// process holds every buffer materialized through the package-level helper.
var process = NewArena()

// Materialize materializes blob into the process-wide arena.
func Materialize(blob []byte) View {
	return process.Materialize(blob)
}

// ProcessArena returns the process-wide arena.
func ProcessArena() *Arena {
	return process
}
