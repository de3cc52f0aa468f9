package merkle_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GMKrieger/client-server-merkle/pkg/merkle"
)

func TestNewTree(t *testing.T) {
	t.Run("rejects empty leaves", func(t *testing.T) {
		_, err := merkle.NewTree(merkle.SHA256, nil)
		if !errors.Is(err, merkle.ErrEmptyLeaves) {
			t.Errorf("expected ErrEmptyLeaves, got %v", err)
		}

		_, err = merkle.FromData(merkle.SHA256, [][]byte{})
		if !errors.Is(err, merkle.ErrEmptyLeaves) {
			t.Errorf("expected ErrEmptyLeaves from FromData, got %v", err)
		}
	})

	t.Run("single leaf is the root", func(t *testing.T) {
		leaf := merkle.SHA256.Sum([]byte("only"))
		tree, err := merkle.NewTree(merkle.SHA256, []merkle.Hash{leaf})
		if err != nil {
			t.Fatalf("failed to build tree: %v", err)
		}
		if tree.Root() != leaf {
			t.Error("root should equal the single leaf")
		}
		if tree.Height() != 1 {
			t.Errorf("expected height 1, got %d", tree.Height())
		}
	})

	t.Run("three leaves duplicate the odd node", func(t *testing.T) {
		h := merkle.SHA256
		a, b, c := h.Sum([]byte("a")), h.Sum([]byte("b")), h.Sum([]byte("c"))

		tree, err := merkle.NewTree(h, []merkle.Hash{a, b, c})
		if err != nil {
			t.Fatalf("failed to build tree: %v", err)
		}

		expected := merkle.Combine(h, merkle.Combine(h, a, b), merkle.Combine(h, c, c))
		if tree.Root() != expected {
			t.Errorf("unexpected root: %s", tree.RootHex())
		}
		if tree.Height() != 3 {
			t.Errorf("expected height 3, got %d", tree.Height())
		}
	})

	t.Run("height follows leaf count", func(t *testing.T) {
		cases := map[int]int{1: 1, 2: 2, 3: 3, 4: 3, 5: 4, 8: 4, 9: 5, 100: 8}
		for count, height := range cases {
			leaves := make([]merkle.Hash, count)
			for i := range leaves {
				leaves[i] = merkle.SHA256.Sum([]byte{byte(i)})
			}
			tree, err := merkle.NewTree(merkle.SHA256, leaves)
			if err != nil {
				t.Fatalf("failed to build tree of %d: %v", count, err)
			}
			if tree.Height() != height {
				t.Errorf("%d leaves: expected height %d, got %d", count, height, tree.Height())
			}
		}
	})

	t.Run("order changes the root", func(t *testing.T) {
		ab, _ := merkle.FromData(merkle.SHA256, [][]byte{[]byte("a"), []byte("b")})
		ba, _ := merkle.FromData(merkle.SHA256, [][]byte{[]byte("b"), []byte("a")})
		if ab.Root() == ba.Root() {
			t.Error("swapping leaves should change the root")
		}
	})

	t.Run("is deterministic", func(t *testing.T) {
		data := [][]byte{[]byte("x"), []byte("y"), []byte("z")}
		first, _ := merkle.FromData(merkle.SHA256, data)
		second, _ := merkle.FromData(merkle.SHA256, data)
		if first.Root() != second.Root() {
			t.Error("same input should give the same root")
		}
	})

	t.Run("does not alias caller leaves", func(t *testing.T) {
		leaves := []merkle.Hash{merkle.SHA256.Sum([]byte("a")), merkle.SHA256.Sum([]byte("b"))}
		tree, _ := merkle.NewTree(merkle.SHA256, leaves)
		root := tree.Root()

		leaves[0][0] ^= 0xff
		got, _ := tree.LeafHash(0)
		if got == leaves[0] {
			t.Error("tree should keep its own copy of the leaves")
		}
		if !tree.Verify(got, mustProof(t, tree, 0)) || tree.Root() != root {
			t.Error("tree changed after caller mutation")
		}
	})

	t.Run("defaults to sha256", func(t *testing.T) {
		tree, err := merkle.FromData(nil, [][]byte{[]byte("a")})
		if err != nil {
			t.Fatalf("failed to build tree: %v", err)
		}
		if tree.Hasher().Name() != "sha256" {
			t.Errorf("expected sha256, got %s", tree.Hasher().Name())
		}
	})
}

func mustProof(t *testing.T, tree *merkle.Tree, index int) []merkle.ProofNode {
	t.Helper()
	proof, err := tree.GenerateProof(index)
	if err != nil {
		t.Fatalf("failed to generate proof: %v", err)
	}
	return proof
}

func TestTreeAccessors(t *testing.T) {
	tree, leaves := buildTree(t, merkle.SHA256, "a", "b", "c")

	t.Run("leaf hash", func(t *testing.T) {
		got, err := tree.LeafHash(1)
		if err != nil {
			t.Fatalf("failed to get leaf: %v", err)
		}
		if got != leaves[1] {
			t.Error("unexpected leaf hash")
		}

		if _, err := tree.LeafHash(3); !errors.Is(err, merkle.ErrIndexOutOfBounds) {
			t.Errorf("expected ErrIndexOutOfBounds, got %v", err)
		}
	})

	t.Run("leaves returns a copy", func(t *testing.T) {
		copied := tree.Leaves()
		if len(copied) != 3 {
			t.Fatalf("expected 3 leaves, got %d", len(copied))
		}
		copied[0][0] ^= 0xff
		got, _ := tree.LeafHash(0)
		if got != leaves[0] {
			t.Error("mutating the returned slice should not affect the tree")
		}
	})

	t.Run("string summary", func(t *testing.T) {
		s := tree.String()
		for _, want := range []string{"MerkleTree {", "leaves: 3", "height: 3", "hash: sha256", "root: " + tree.RootHex()} {
			if !strings.Contains(s, want) {
				t.Errorf("expected %q in %q", want, s)
			}
		}
	})
}

func TestTreeJSON(t *testing.T) {
	tree, err := merkle.FromData(merkle.BLAKE3, [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	if err != nil {
		t.Fatalf("failed to build tree: %v", err)
	}

	data, err := json.Marshal(tree)
	if err != nil {
		t.Fatalf("failed to marshal tree: %v", err)
	}

	t.Run("round trips", func(t *testing.T) {
		var decoded merkle.Tree
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("failed to unmarshal tree: %v", err)
		}
		if decoded.Root() != tree.Root() || decoded.Height() != tree.Height() || decoded.Hasher().Name() != "blake3" {
			t.Errorf("decoded tree differs: %s", &decoded)
		}

		proof, _ := decoded.GenerateProof(2)
		leaf, _ := tree.LeafHash(2)
		if !tree.Verify(leaf, proof) {
			t.Error("proof from decoded tree should verify")
		}
	})

	t.Run("rejects inconsistent levels", func(t *testing.T) {
		var raw map[string]interface{}
		json.Unmarshal(data, &raw)
		levels := raw["levels"].([]interface{})
		top := levels[len(levels)-1].([]interface{})
		top[0] = merkle.SHA256.Sum([]byte("forged")).String()

		forged, _ := json.Marshal(raw)
		var decoded merkle.Tree
		if err := json.Unmarshal(forged, &decoded); !errors.Is(err, merkle.ErrVerificationFailed) {
			t.Errorf("expected ErrVerificationFailed, got %v", err)
		}
	})

	t.Run("rejects empty and unknown algorithm", func(t *testing.T) {
		var decoded merkle.Tree
		if err := json.Unmarshal([]byte(`{"hash_algorithm":"sha256","levels":[]}`), &decoded); !errors.Is(err, merkle.ErrEmptyLeaves) {
			t.Errorf("expected ErrEmptyLeaves, got %v", err)
		}
		if err := json.Unmarshal([]byte(`{"hash_algorithm":"md5","levels":[["`+tree.RootHex()+`"]]}`), &decoded); err == nil {
			t.Error("expected error for unknown algorithm")
		}
	})
}

func TestFromDirectory(t *testing.T) {
	t.Run("orders regular files by name", func(t *testing.T) {
		dir := t.TempDir()
		files := map[string]string{"c.txt": "charlie", "a.txt": "alpha", "b.txt": "bravo"}
		for name, content := range files {
			if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
				t.Fatalf("failed to write %s: %v", name, err)
			}
		}
		if err := os.Mkdir(filepath.Join(dir, "nested"), 0755); err != nil {
			t.Fatalf("failed to create subdirectory: %v", err)
		}

		tree, names, err := merkle.FromDirectory(merkle.SHA256, dir, nil)
		if err != nil {
			t.Fatalf("failed to build tree: %v", err)
		}
		if strings.Join(names, ",") != "a.txt,b.txt,c.txt" {
			t.Errorf("unexpected names: %v", names)
		}

		expected, _ := merkle.FromData(merkle.SHA256, [][]byte{[]byte("alpha"), []byte("bravo"), []byte("charlie")})
		if tree.Root() != expected.Root() {
			t.Error("directory root should match the sorted content root")
		}
	})

	t.Run("applies include filter", func(t *testing.T) {
		dir := t.TempDir()
		os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("keep"), 0644)
		os.WriteFile(filepath.Join(dir, "skip.log"), []byte("skip"), 0644)

		_, names, err := merkle.FromDirectory(merkle.SHA256, dir, func(name string) bool {
			return strings.HasSuffix(name, ".txt")
		})
		if err != nil {
			t.Fatalf("failed to build tree: %v", err)
		}
		if len(names) != 1 || names[0] != "keep.txt" {
			t.Errorf("unexpected names: %v", names)
		}
	})

	t.Run("rejects empty directory", func(t *testing.T) {
		_, _, err := merkle.FromDirectory(merkle.SHA256, t.TempDir(), nil)
		if !errors.Is(err, merkle.ErrEmptyLeaves) {
			t.Errorf("expected ErrEmptyLeaves, got %v", err)
		}
	})
}
