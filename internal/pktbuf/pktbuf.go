// Package pktbuf models the packet boundary the host packet-processing
// framework hands to the core: a frame of opaque buffer handles, each bound
// to a contiguous byte range with a read cursor and a current length. The
// core may advance the cursor and mutate bytes between the cursor and the
// end, but must restore the cursor to the IPv4 header start before handing
// the buffer back.
package pktbuf

// Buffer is one packet handle: a contiguous byte slice plus a read cursor.
// It is not safe for concurrent use; the pipeline processes one buffer at a
// time, run to completion, per the single-threaded scheduling model.
type Buffer struct {
	data   []byte
	cursor int
}

// New wraps data as a Buffer with the cursor at the start (the IPv4 header).
func New(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Cursor returns the current read offset.
func (b *Buffer) Cursor() int {
	return b.cursor
}

// Len returns the number of bytes from the cursor to the end of the buffer.
func (b *Buffer) Len() int {
	return len(b.data) - b.cursor
}

// Bytes returns the byte slice from the cursor to the end. Callers may
// mutate it in place; they must not retain it past the packet's lifetime.
func (b *Buffer) Bytes() []byte {
	return b.data[b.cursor:]
}

// Advance moves the cursor forward n bytes. It does not bounds-check; callers
// must have already verified n bytes are available via Len.
func (b *Buffer) Advance(n int) {
	b.cursor += n
}

// Reset restores the cursor to the IPv4 header start. The pipeline calls
// this on every exit path so the buffer is handed back in its original
// layout regardless of how far inspection advanced.
func (b *Buffer) Reset() {
	b.cursor = 0
}

// WithCursor runs fn with the cursor freely advanced inside it, then
// restores the cursor to its value on entry regardless of how fn returns.
// This expresses the cursor-restoration invariant as a
// scoped acquisition rather than a manually-paired save/restore at every
// call site.
func (b *Buffer) WithCursor(fn func()) {
	saved := b.cursor
	defer func() { b.cursor = saved }()
	fn()
}
