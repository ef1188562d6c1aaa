package bufpool

import "testing"

func TestGetReturnsBlockSize(t *testing.T) {
	t.Parallel()

	p := New(1024)
	b := p.Get()
	if len(b) != 1024 {
		t.Fatalf("len(b) = %d, want 1024", len(b))
	}
}

func TestPutGetReuses(t *testing.T) {
	t.Parallel()

	p := New(64)
	b := p.Get()
	b[0] = 0xAB
	p.Put(b)

	b2 := p.Get()
	if len(b2) != 64 {
		t.Fatalf("len(b2) = %d, want 64", len(b2))
	}
}

func TestPutWrongSizeDropped(t *testing.T) {
	t.Parallel()

	p := New(64)
	wrong := make([]byte, 8)
	p.Put(wrong) // must not panic, must not be handed back out with wrong size

	for i := 0; i < 10; i++ {
		b := p.Get()
		if len(b) != 64 {
			t.Fatalf("len(b) = %d, want 64", len(b))
		}
	}
}

func TestDefaultBlockSize(t *testing.T) {
	t.Parallel()

	p := New(0)
	if p.BlockSize() != 16*1024 {
		t.Fatalf("BlockSize() = %d, want %d", p.BlockSize(), 16*1024)
	}
}
