package pktbuf

import "testing"

func TestCursorAdvanceAndBytes(t *testing.T) {
	b := New([]byte{1, 2, 3, 4, 5})
	if b.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", b.Len())
	}
	b.Advance(2)
	if b.Cursor() != 2 {
		t.Fatalf("Cursor() = %d, want 2", b.Cursor())
	}
	if got := b.Bytes(); len(got) != 3 || got[0] != 3 {
		t.Fatalf("Bytes() = %v, want [3 4 5]", got)
	}
}

func TestReset(t *testing.T) {
	b := New([]byte{1, 2, 3})
	b.Advance(2)
	b.Reset()
	if b.Cursor() != 0 {
		t.Fatalf("Cursor() after Reset = %d, want 0", b.Cursor())
	}
}

func TestWithCursorRestoresOnNormalReturn(t *testing.T) {
	b := New([]byte{1, 2, 3, 4})
	b.Advance(1)
	b.WithCursor(func() {
		b.Advance(2)
		if b.Cursor() != 3 {
			t.Fatalf("Cursor() inside WithCursor = %d, want 3", b.Cursor())
		}
	})
	if b.Cursor() != 1 {
		t.Fatalf("Cursor() after WithCursor = %d, want 1 (restored)", b.Cursor())
	}
}

func TestWithCursorRestoresOnPanic(t *testing.T) {
	b := New([]byte{1, 2, 3, 4})
	b.Advance(1)
	func() {
		defer func() { recover() }()
		b.WithCursor(func() {
			b.Advance(2)
			panic("boom")
		})
	}()
	if b.Cursor() != 1 {
		t.Fatalf("Cursor() after a panic inside WithCursor = %d, want 1 (restored)", b.Cursor())
	}
}

func TestBytesReflectsMutation(t *testing.T) {
	data := []byte{1, 2, 3}
	b := New(data)
	b.Bytes()[0] = 99
	if data[0] != 99 {
		t.Fatal("Bytes() should return a view that mutates the underlying buffer")
	}
}
