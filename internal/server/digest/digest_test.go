package digest

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

// failingReader returns some data and then an error.
type failingReader struct {
	data []byte
	done bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.done {
		r.done = true
		return copy(p, r.data), nil
	}
	return 0, errors.New("connection reset")
}

func mustEngine(t *testing.T, algorithm string) *Engine {
	t.Helper()
	e, err := New(algorithm)
	if err != nil {
		t.Fatalf("New(%q): %v", algorithm, err)
	}
	return e
}

func TestNew(t *testing.T) {
	t.Run("defaults to sha256", func(t *testing.T) {
		e := mustEngine(t, "")
		if e.Algorithm() != SHA256 {
			t.Errorf("expected %s, got %s", SHA256, e.Algorithm())
		}
	})

	t.Run("normalizes case", func(t *testing.T) {
		e := mustEngine(t, " BLAKE3 ")
		if e.Algorithm() != Blake3 {
			t.Errorf("expected %s, got %s", Blake3, e.Algorithm())
		}
	})

	t.Run("rejects unknown algorithm", func(t *testing.T) {
		_, err := New("md5")
		if !errors.Is(err, ErrUnknownAlgorithm) {
			t.Errorf("expected ErrUnknownAlgorithm, got %v", err)
		}
	})
}

func TestEngine_Sum(t *testing.T) {
	t.Run("known sha256 of hello", func(t *testing.T) {
		e := mustEngine(t, SHA256)
		fp, n, err := e.Sum(strings.NewReader("hello"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
		if fp != want {
			t.Errorf("expected %s, got %s", want, fp)
		}
		if n != 5 {
			t.Errorf("expected 5 bytes, got %d", n)
		}
	})

	t.Run("known sha256 of empty input", func(t *testing.T) {
		e := mustEngine(t, SHA256)
		fp, n, err := e.Sum(bytes.NewReader(nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		const want = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
		if fp != want {
			t.Errorf("expected %s, got %s", want, fp)
		}
		if n != 0 {
			t.Errorf("expected 0 bytes, got %d", n)
		}
	})

	for _, algorithm := range []string{SHA256, Blake2b, Blake3} {
		t.Run(algorithm+" is deterministic and fixed length", func(t *testing.T) {
			e := mustEngine(t, algorithm)
			content := strings.Repeat("abcdefgh", 20000) // spans several chunks

			first, _, err := e.Sum(strings.NewReader(content))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for i := 0; i < 3; i++ {
				again, _, err := e.Sum(strings.NewReader(content))
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if again != first {
					t.Fatalf("fingerprint changed between calls: %s != %s", first, again)
				}
			}
			if !Valid(first) {
				t.Errorf("fingerprint %q is not valid hex of length %d", first, HexLength)
			}
		})
	}

	t.Run("algorithms disagree", func(t *testing.T) {
		a, _, _ := mustEngine(t, SHA256).Sum(strings.NewReader("hello"))
		b, _, _ := mustEngine(t, Blake2b).Sum(strings.NewReader("hello"))
		c, _, _ := mustEngine(t, Blake3).Sum(strings.NewReader("hello"))
		if a == b || b == c || a == c {
			t.Errorf("expected distinct fingerprints, got %s %s %s", a, b, c)
		}
	})

	t.Run("tee hash matches Sum", func(t *testing.T) {
		e := mustEngine(t, Blake3)
		h := e.NewHash()
		if _, err := io.Copy(io.Discard, io.TeeReader(strings.NewReader("hello"), h)); err != nil {
			t.Fatal(err)
		}
		want, _, _ := e.Sum(strings.NewReader("hello"))
		if got := Encode(h); got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	})

	t.Run("read error is surfaced", func(t *testing.T) {
		e := mustEngine(t, SHA256)
		_, _, err := e.Sum(&failingReader{data: []byte("partial")})
		if !errors.Is(err, ErrReadFailed) {
			t.Errorf("expected ErrReadFailed, got %v", err)
		}
	})
}

func TestValid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"valid", strings.Repeat("a1", 32), true},
		{"too short", "abc", false},
		{"uppercase", strings.Repeat("A1", 32), false},
		{"non hex", strings.Repeat("zz", 32), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Valid(tt.input); got != tt.want {
				t.Errorf("Valid(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
