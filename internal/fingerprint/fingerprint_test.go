package fingerprint

import (
	"errors"
	"testing"
)

func TestHash_KnownVectors(t *testing.T) {
	tests := []struct {
		name  string
		words []uint32
		want  uint32
	}{
		{"empty", nil, 0},
		{"single zero", []uint32{0}, 0},
		{"ascending", []uint32{1, 2, 3}, 0xf926da4f},
		{"descending", []uint32{3, 2, 1}, 0xf9cc3098},
		{"max word", []uint32{0xffffffff}, 0xae65a494},
		{"max words wrap", []uint32{0xffffffff, 0xffffffff}, 0xe9c2d586},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Hash(tt.words); got != tt.want {
				t.Errorf("Hash(%v) = %#08x, want %#08x", tt.words, got, tt.want)
			}
		})
	}
}

func TestHash_EmptyIsFinalizedZero(t *testing.T) {
	if got, want := Hash([]uint32{}), finalize(0); got != want {
		t.Errorf("Hash([]) = %d, want finalize(0) = %d", got, want)
	}
}

func TestHash_OrderSensitive(t *testing.T) {
	if Hash([]uint32{1, 2, 3}) == Hash([]uint32{3, 2, 1}) {
		t.Error("Hash should depend on element order")
	}
}

func TestHash_Deterministic(t *testing.T) {
	words := []uint32{7, 42, 0xdeadbeef, 0, 99}
	first := Hash(words)
	for i := 0; i < 10; i++ {
		if got := Hash(words); got != first {
			t.Fatalf("run %d: Hash = %#08x, want %#08x", i, got, first)
		}
	}
}

func TestOfBytes_MatchesWordHash(t *testing.T) {
	if got, want := OfBytes([]byte{1, 2, 3}), Hash([]uint32{1, 2, 3}); got != want {
		t.Errorf("OfBytes([1 2 3]) = %#08x, want %#08x", got, want)
	}
	if got := OfBytes([]byte("hello")); got != 0xc8fd181b {
		t.Errorf("OfBytes(hello) = %#08x, want 0xc8fd181b", got)
	}
}

func TestVerify(t *testing.T) {
	data := []byte("tile payload")
	fp := OfBytes(data)
	if !Verify(data, fp) {
		t.Error("Verify should accept matching fingerprint")
	}
	if Verify([]byte("other payload"), fp) {
		t.Error("Verify should reject different payload")
	}
}

func TestFormatParse(t *testing.T) {
	fp := uint32(0xf926da4f)
	s := Format(fp)
	if s != "fp32:f926da4f" {
		t.Fatalf("Format = %q", s)
	}
	got, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got != fp {
		t.Errorf("Parse(%q) = %#08x, want %#08x", s, got, fp)
	}

	for _, bad := range []string{"", "sha256:abc", "fp32:zz", "fp32:1ffffffff"} {
		if _, err := Parse(bad); !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidFormat", bad, err)
		}
	}
}

func TestCombine(t *testing.T) {
	if got, want := Combine(1, 2, 3), Hash([]uint32{1, 2, 3}); got != want {
		t.Errorf("Combine = %#08x, want %#08x", got, want)
	}
}
