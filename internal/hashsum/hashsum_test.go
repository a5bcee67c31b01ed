package hashsum_test

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
	"testing"

	"github.com/zynqcloud/pictura/internal/hashsum"
)

func TestStreamToTempComputesDigest(t *testing.T) {
	dir := t.TempDir()
	const payload = "a small image payload"
	want := sha256.Sum256([]byte(payload))

	res, err := hashsum.StreamToTemp(dir, strings.NewReader(payload))
	if err != nil {
		t.Fatalf("StreamToTemp: %v", err)
	}
	defer os.Remove(res.Path)

	if res.Hash != hex.EncodeToString(want[:]) {
		t.Errorf("Hash = %q, want %q", res.Hash, hex.EncodeToString(want[:]))
	}
	if res.Size != int64(len(payload)) {
		t.Errorf("Size = %d, want %d", res.Size, len(payload))
	}

	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("ReadFile(%q): %v", res.Path, err)
	}
	if string(data) != payload {
		t.Errorf("tmp file content = %q, want %q", data, payload)
	}
}

func TestStreamToTempSameContentSameHash(t *testing.T) {
	dir := t.TempDir()
	a, err := hashsum.StreamToTemp(dir, strings.NewReader("identical"))
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(a.Path)
	b, err := hashsum.StreamToTemp(dir, strings.NewReader("identical"))
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(b.Path)

	if a.Hash != b.Hash {
		t.Errorf("identical content hashed to different digests: %q vs %q", a.Hash, b.Hash)
	}
	if a.Path == b.Path {
		t.Error("each call should produce a distinct temp file")
	}
}

func TestHashFileMatchesStreamToTemp(t *testing.T) {
	dir := t.TempDir()
	res, err := hashsum.StreamToTemp(dir, strings.NewReader("rehash me"))
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(res.Path)

	rehashed, err := hashsum.HashFile(res.Path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if rehashed.Hash != res.Hash {
		t.Errorf("HashFile digest = %q, want %q", rehashed.Hash, res.Hash)
	}
}

func TestShardedPath(t *testing.T) {
	hash := strings.Repeat("ab", 32)
	got := hashsum.ShardedPath(hash)
	want := "ab/ab/" + hash
	if got != want {
		t.Errorf("ShardedPath = %q, want %q", got, want)
	}
}

func TestValid(t *testing.T) {
	cases := map[string]bool{
		strings.Repeat("a", 64): true,
		strings.Repeat("a", 63): false,
		"not-hex-" + strings.Repeat("z", 56): false,
		"": false,
	}
	for in, want := range cases {
		if got := hashsum.Valid(in); got != want {
			t.Errorf("Valid(%q) = %v, want %v", in, got, want)
		}
	}
}
