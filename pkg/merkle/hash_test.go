package merkle_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/GMKrieger/client-server-merkle/pkg/merkle"
)

func TestHasher(t *testing.T) {
	t.Run("sha256 known vector", func(t *testing.T) {
		got := merkle.SHA256.Sum([]byte("abc")).String()
		want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
		if got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	})

	t.Run("sha256 of empty input", func(t *testing.T) {
		got := merkle.SHA256.Sum(nil).String()
		want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
		if got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	})

	t.Run("combine is order sensitive", func(t *testing.T) {
		a := merkle.SHA256.Sum([]byte("a"))
		b := merkle.SHA256.Sum([]byte("b"))

		if merkle.Combine(merkle.SHA256, a, b) == merkle.Combine(merkle.SHA256, b, a) {
			t.Error("combine(a, b) should differ from combine(b, a)")
		}

		concat := append(a.Bytes(), b.Bytes()...)
		if merkle.Combine(merkle.SHA256, a, b) != merkle.SHA256.Sum(concat) {
			t.Error("combine should digest the concatenation")
		}
	})

	t.Run("blake3 differs from sha256", func(t *testing.T) {
		data := []byte("same input")
		if merkle.BLAKE3.Sum(data) == merkle.SHA256.Sum(data) {
			t.Error("different algorithms should give different digests")
		}
	})

	t.Run("resolves by name", func(t *testing.T) {
		for name, want := range map[string]string{"": "sha256", "SHA256": "sha256", "sha-256": "sha256", "blake3": "blake3"} {
			h, err := merkle.HasherByName(name)
			if err != nil {
				t.Fatalf("failed to resolve %q: %v", name, err)
			}
			if h.Name() != want {
				t.Errorf("%q: expected %s, got %s", name, want, h.Name())
			}
		}

		if _, err := merkle.HasherByName("md5"); err == nil {
			t.Error("expected error for unsupported algorithm")
		}
	})
}

func TestSumReader(t *testing.T) {
	data := strings.Repeat("stream me ", 10000)

	for _, h := range []merkle.Hasher{merkle.SHA256, merkle.BLAKE3} {
		t.Run(h.Name(), func(t *testing.T) {
			got, n, err := merkle.SumReader(h, strings.NewReader(data))
			if err != nil {
				t.Fatalf("failed to hash reader: %v", err)
			}
			if n != int64(len(data)) {
				t.Errorf("expected %d bytes, got %d", len(data), n)
			}
			if got != h.Sum([]byte(data)) {
				t.Error("streamed digest should match Sum")
			}

			empty, n, _ := merkle.SumReader(h, strings.NewReader(""))
			if n != 0 || empty != h.Sum(nil) {
				t.Error("empty stream should match Sum of empty input")
			}
		})
	}
}

func TestParseHash(t *testing.T) {
	original := merkle.SHA256.Sum([]byte("parse me"))

	t.Run("round trips hex with whitespace", func(t *testing.T) {
		parsed, err := merkle.ParseHash("  " + original.String() + "\n")
		if err != nil {
			t.Fatalf("failed to parse: %v", err)
		}
		if parsed != original {
			t.Error("parsed hash does not match")
		}
	})

	t.Run("rejects bad input", func(t *testing.T) {
		for _, input := range []string{"", "zz", original.String()[:62], original.String() + "00"} {
			if _, err := merkle.ParseHash(input); err == nil {
				t.Errorf("expected error for %q", input)
			}
		}
	})

	t.Run("encodes as hex in JSON", func(t *testing.T) {
		node := merkle.ProofNode{Hash: original, IsLeft: true}
		encoded, err := json.Marshal(node)
		if err != nil {
			t.Fatalf("failed to marshal: %v", err)
		}

		want := `{"hash":"` + original.String() + `","is_left":true}`
		if string(encoded) != want {
			t.Errorf("expected %s, got %s", want, encoded)
		}

		var decoded merkle.ProofNode
		if err := json.Unmarshal(encoded, &decoded); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if decoded != node {
			t.Error("decoded node does not match")
		}

		if err := json.Unmarshal([]byte(`{"hash":"`+strings.Repeat("g", 64)+`"}`), &decoded); err == nil {
			t.Error("expected error for non-hex hash")
		}
	})
}
