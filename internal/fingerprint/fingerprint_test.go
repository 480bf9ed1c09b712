package fingerprint

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFromReaderIsDeterministic(t *testing.T) {
	data := bytes.Repeat([]byte("thumbnail"), ChunkSize/3)

	first, n, err := FromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("FromReader returned error: %v", err)
	}
	if n != int64(len(data)) {
		t.Fatalf("read %d bytes, want %d", n, len(data))
	}

	second, _, err := FromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("FromReader returned error: %v", err)
	}
	if first != second {
		t.Fatalf("fingerprint changed between runs: %s != %s", first, second)
	}
	if first != FromBytes(data) {
		t.Fatalf("chunked digest %s differs from one-shot digest %s", first, FromBytes(data))
	}
	if !first.Valid() {
		t.Fatalf("fingerprint %q is not valid", first)
	}
}

func TestFromReaderDistinguishesContent(t *testing.T) {
	a, _, _ := FromReader(bytes.NewReader([]byte("a")))
	b, _, _ := FromReader(bytes.NewReader([]byte("b")))
	if a == b {
		t.Fatal("different content produced the same fingerprint")
	}
}

func TestFromFileMatchesFromBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "src.bin")
	data := []byte("hello world")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	got, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile returned error: %v", err)
	}
	// sha256("hello world")
	want := Fingerprint("b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9")
	if got != want {
		t.Fatalf("FromFile = %s, want %s", got, want)
	}
}

func TestFromFileMissing(t *testing.T) {
	if _, err := FromFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParse(t *testing.T) {
	valid := FromBytes([]byte("x")).String()
	if _, err := Parse(valid); err != nil {
		t.Fatalf("Parse(%q) returned error: %v", valid, err)
	}

	for _, s := range []string{"", "abc", valid[:63] + "G", valid + "0"} {
		if _, err := Parse(s); !errors.Is(err, ErrInvalid) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalid", s, err)
		}
	}
}
