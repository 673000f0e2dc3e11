package format

import "testing"

func TestRoundTrip(t *testing.T) {
	b := make([]byte, 32)
	PutU32(b, 0, 0xdeadbeef)
	if got := ReadU32(b, 0); got != 0xdeadbeef {
		t.Fatalf("ReadU32: got %#x", got)
	}
	PutU64(b, 8, 0x0123456789abcdef)
	if got := ReadU64(b, 8); got != 0x0123456789abcdef {
		t.Fatalf("ReadU64: got %#x", got)
	}
	PutI64(b, 16, -42)
	if got := ReadI64(b, 16); got != -42 {
		t.Fatalf("ReadI64: got %d", got)
	}
}

func TestLittleEndianLayout(t *testing.T) {
	b := make([]byte, 4)
	PutU32(b, 0, 0x11223344)
	want := []byte{0x44, 0x33, 0x22, 0x11}
	for i := range want {
		if b[i] != want[i] {
			t.Fatalf("byte %d: got %#x want %#x", i, b[i], want[i])
		}
	}
}

func TestAlign(t *testing.T) {
	tests := []struct {
		in, align8, alignPage uint64
	}{
		{0, 0, 0},
		{1, 8, PageSize},
		{8, 8, PageSize},
		{9, 16, PageSize},
		{PageSize, PageSize, PageSize},
		{PageSize + 1, PageSize + 8, 2 * PageSize},
	}
	for _, tt := range tests {
		if got := Align8(tt.in); got != tt.align8 {
			t.Errorf("Align8(%d) = %d, want %d", tt.in, got, tt.align8)
		}
		if got := AlignPage(tt.in); got != tt.alignPage {
			t.Errorf("AlignPage(%d) = %d, want %d", tt.in, got, tt.alignPage)
		}
	}
	if got := PageFloor(PageSize + 100); got != PageSize {
		t.Errorf("PageFloor = %d, want %d", got, uint64(PageSize))
	}
}

func TestRegionsDoNotOverlap(t *testing.T) {
	if LogOffset < HeaderSize {
		t.Fatal("log overlaps header")
	}
	if HeapOffset != LogOffset+LogSize {
		t.Fatal("heap does not follow log")
	}
	if MinPoolSize <= HeapOffset {
		t.Fatal("minimum pool leaves no heap")
	}
}
