package sha256

import "testing"

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestHashListMatchesEncodedSnapshot(t *testing.T) {
	t.Parallel()

	h := New()
	list, err := h.HashList([]string{"1.2.3.4:80", "5.6.7.8:8080"})
	if err != nil {
		t.Fatalf("HashList() error = %v", err)
	}
	raw, err := h.Hash([]byte("1.2.3.4:80\n5.6.7.8:8080\n"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if list != raw {
		t.Fatalf("expected %s, got %s", raw, list)
	}

	reordered, err := h.HashList([]string{"5.6.7.8:8080", "1.2.3.4:80"})
	if err != nil {
		t.Fatalf("HashList() error = %v", err)
	}
	if reordered == list {
		t.Fatalf("expected order to change the digest")
	}
}
