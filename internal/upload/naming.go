package upload

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"

	"github.com/zynqcloud/pictura/internal/validate"
)

// randomNameEncoding is unpadded standard base32 (uppercase A-Z, 2-7);
// randomToken lowercases its output into filesystem-safe, URL-safe tokens.
var randomNameEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// randomToken returns n random bytes encoded as a lowercase base32 string.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("upload: read random bytes: %w", err)
	}
	s := randomNameEncoding.EncodeToString(buf)
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out), nil
}

// baseNameBytes and growthStep implement the "retry with a growing length
// on collision" rule for both alias and filename generation in spec.md §4.3.
// 7 random bytes base32-encode to 12 characters, matching the >=10-character
// names the original Rust source starts from (upload_manager.rs's
// next_file, "let mut limit: usize = 10;") and spec.md §8 scenario 1's
// [A-Za-z0-9]{10,} assertion on a freshly generated alias.
const (
	baseNameBytes = 7
	growthStep    = 2
)

// newCandidateName generates a random name + extension for attempt (0-based),
// growing the random portion on each retry so repeated collisions quickly
// become astronomically unlikely.
func newCandidateName(format validate.Format, attempt int) (string, error) {
	tok, err := randomToken(baseNameBytes + attempt*growthStep)
	if err != nil {
		return "", err
	}
	return tok + format.Extension(), nil
}
