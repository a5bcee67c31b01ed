// Package variant implements the closed set of image transforms a variant
// URL path can request. The operator set is fixed by spec — identity,
// thumbnail, blur — so it is modeled as a tagged union (a Kind enum plus
// per-kind fields) dispatched with a switch on Kind, rather than as a
// registry of heap-allocated interface implementations. Adding a fourth
// operator means growing this enum, not registering a new type.
package variant

import (
	"image"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

// Kind identifies which operator an Op represents.
type Kind int

const (
	KindIdentity Kind = iota
	KindThumbnail
	KindBlur
)

// Name returns the lowercase operator name used in both the whitelist
// config and the on-disk path fragment.
func (k Kind) Name() string {
	switch k {
	case KindThumbnail:
		return "thumbnail"
	case KindBlur:
		return "blur"
	default:
		return "identity"
	}
}

// Op is a single operator in a variant chain. Only the field matching Kind
// is meaningful.
type Op struct {
	Kind  Kind
	N     int     // thumbnail bound, in pixels
	Sigma float64 // blur standard deviation
}

// Parse decodes one URL path segment into an Op. ok is false if the
// segment does not match any known operator prefix or its argument fails
// to parse, in which case the caller drops the segment with a warning per
// spec.md §4.5 step 1.
func Parse(segment string) (op Op, ok bool) {
	switch {
	case segment == "identity":
		return Op{Kind: KindIdentity}, true

	case strings.HasPrefix(segment, "thumbnail"):
		n, err := strconv.Atoi(strings.TrimPrefix(segment, "thumbnail"))
		if err != nil || n <= 0 {
			return Op{}, false
		}
		return Op{Kind: KindThumbnail, N: n}, true

	case strings.HasPrefix(segment, "blur"):
		sigma, err := strconv.ParseFloat(strings.TrimPrefix(segment, "blur"), 64)
		if err != nil {
			return Op{}, false
		}
		return Op{Kind: KindBlur, Sigma: sigma}, true

	default:
		return Op{}, false
	}
}

// ParseChain parses every segment, dropping any that fail to parse or that
// the whitelist excludes. whitelist is nil to mean "no restriction".
func ParseChain(segments []string, whitelist map[string]bool) []Op {
	var chain []Op
	for _, seg := range segments {
		op, ok := Parse(seg)
		if !ok {
			continue
		}
		if whitelist != nil && !whitelist[op.Kind.Name()] {
			continue
		}
		chain = append(chain, op)
	}
	return chain
}

// PathFragment returns the directory path segments this operator
// contributes to the variant's on-disk path: identity contributes nothing,
// thumbnail contributes "thumbnail/<N>", blur contributes "blur/<σ>".
func (op Op) PathFragment() []string {
	switch op.Kind {
	case KindThumbnail:
		return []string{"thumbnail", strconv.Itoa(op.N)}
	case KindBlur:
		return []string{"blur", formatSigma(op.Sigma)}
	default:
		return nil
	}
}

// VariantPath builds the full on-disk path for filename under imageDir
// after the chain in ops has been applied, in order.
func VariantPath(imageDir string, ops []Op, filename string) string {
	parts := []string{imageDir}
	for _, op := range ops {
		parts = append(parts, op.PathFragment()...)
	}
	parts = append(parts, filename)
	return strings.Join(parts, "/")
}

// Apply runs op over img, reporting whether it actually changed the pixels
// (mutated=false for identity, for a thumbnail whose bound already contains
// both of img's dimensions, and for blur with sigma <= 0).
func (op Op) Apply(img image.Image) (out image.Image, mutated bool) {
	switch op.Kind {
	case KindThumbnail:
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w <= op.N && h <= op.N {
			return img, false
		}
		return imaging.Resize(img, thumbnailWidth(w, h, op.N), thumbnailHeight(w, h, op.N), imaging.Lanczos), true

	case KindBlur:
		if op.Sigma <= 0 {
			return img, false
		}
		return imaging.Blur(img, op.Sigma), true

	default: // KindIdentity
		return img, false
	}
}

// ApplyChain runs every operator in order, returning the final image and
// whether any operator mutated it. If nothing mutated, callers should
// treat the original bytes as the result rather than re-encoding.
func ApplyChain(img image.Image, ops []Op) (out image.Image, mutated bool) {
	out = img
	for _, op := range ops {
		var m bool
		out, m = op.Apply(out)
		mutated = mutated || m
	}
	return out, mutated
}

// thumbnailWidth/thumbnailHeight bound the longer edge to n, preserving
// aspect ratio, matching the NxN-box semantics in spec.md §4.5.
func thumbnailWidth(w, h, n int) int {
	if w >= h {
		return n
	}
	return 0 // imaging.Resize treats 0 as "compute from the other dimension"
}

func thumbnailHeight(w, h, n int) int {
	if h >= w {
		return n
	}
	return 0
}

func formatSigma(sigma float64) string {
	return strconv.FormatFloat(sigma, 'f', -1, 64)
}
