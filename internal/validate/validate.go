// Package validate implements the canonicalization pass every uploaded or
// imported image goes through: decode, strip ancillary metadata, re-encode
// to a stable byte stream in either the detected container or an operator-
// prescribed one.
//
// Re-encoding is mandatory even when the prescribed format matches the
// detected one — it is what makes content-hash dedup reflect the pixels
// rather than incidental byte layout (EXIF blocks, chunk ordering, embedded
// thumbnails), and it is what strips anything hostile riding along in
// ancillary chunks.
package validate

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"strings"

	"github.com/gen2brain/webp"
	"golang.org/x/image/bmp"
	xwebp "golang.org/x/image/webp"

	"github.com/zynqcloud/pictura/internal/apierr"
)

// Format is a canonical, lowercase content format name.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatBMP  Format = "bmp"
	FormatWebP Format = "webp"
)

// ContentType returns the HTTP content-type string for f.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatBMP:
		return "image/bmp"
	case FormatWebP:
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the file extension (with leading dot) used for alias
// and stored-filename generation, per the fixed table in spec.md §4.3.
func (f Format) Extension() string {
	switch f {
	case FormatPNG:
		return ".png"
	case FormatJPEG:
		return ".jpg"
	case FormatGIF:
		return ".gif"
	case FormatWebP:
		return ".webp"
	default:
		return ".bmp"
	}
}

// ParseFormat maps a lowercase format name (as supplied by a client's
// prescribed-format hint) to a Format, reporting ok=false for anything not
// in {jpeg, png, webp} — the only three formats that may be prescribed.
func ParseFormat(s string) (f Format, ok bool) {
	switch s {
	case "jpeg", "jpg":
		return FormatJPEG, true
	case "png":
		return FormatPNG, true
	case "webp":
		return FormatWebP, true
	default:
		return "", false
	}
}

// ParseContentType maps an HTTP content-type string ("image/png") or a
// bare format name ("png") to a Format, for the three prescribable formats.
func ParseContentType(ct string) (f Format, ok bool) {
	ct = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ct)), "image/")
	return ParseFormat(ct)
}

// FormatFromExtension maps a stored filename's extension (as produced by
// Extension) back to its Format, for content-type inference when serving
// already-canonicalized files off disk without re-decoding them.
func FormatFromExtension(ext string) (Format, bool) {
	switch strings.ToLower(ext) {
	case ".png":
		return FormatPNG, true
	case ".jpg", ".jpeg":
		return FormatJPEG, true
	case ".gif":
		return FormatGIF, true
	case ".webp":
		return FormatWebP, true
	case ".bmp":
		return FormatBMP, true
	default:
		return "", false
	}
}

// JPEGQuality is used whenever the validator or variant engine encodes JPEG
// output. Fixed rather than configurable — spec.md does not expose a quality
// knob.
const JPEGQuality = 90

// WebPQuality mirrors JPEGQuality for WebP lossy encoding.
const WebPQuality = 90

// Canonicalize reads the bytes at path, detects its format, and rewrites
// path in place with canonical bytes in either the detected format or, if
// prescribed is non-empty, the prescribed one. Returns the final format.
//
// The detect-then-switch structure mirrors the table in spec.md §4.2:
// GIF/BMP/WebP without a prescribed format re-encode in their own
// container; JPEG/PNG without a prescribed format re-encode in their own
// container too (this still strips metadata, since image/jpeg and
// image/png never round-trip ancillary chunks); any detected format paired
// with a prescribed one decodes and re-encodes in the prescribed container.
func Canonicalize(path string, prescribed Format) (Format, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("validate: read: %w", err)
	}

	detected, ok := detectFormat(raw)
	if !ok {
		return "", apierr.New(apierr.KindUnsupportedFormat, "unsupported or unrecognized image format")
	}

	target := detected
	if prescribed != "" {
		target = prescribed
	}

	var out []byte
	if detected == FormatGIF && prescribed == "" {
		// GIF stays a GIF when no prescribed format forces conversion. The
		// canonical original must keep every frame — only the thumbnail
		// operator is allowed to collapse a GIF to frame zero — so this
		// re-encodes the full animation (all frames, delays, disposal
		// methods, infinite loop) rather than decoding through image.Image,
		// which only exposes a single frame. Re-encoding via image/gif
		// still strips the comment/application extension blocks that can
		// carry hostile metadata; the loop-count/disposal fields it does
		// keep are structural animation data, not free-form metadata.
		out, err = canonicalizeGIF(raw)
	} else {
		img, decodeErr := decode(raw, detected)
		if decodeErr != nil {
			kind := apierr.KindInvalidImage
			if detected == FormatGIF {
				kind = apierr.KindGif
			}
			return "", apierr.Wrap(kind, "invalid image", decodeErr)
		}
		out, err = encode(img, target)
	}
	if err != nil {
		return "", fmt.Errorf("validate: encode: %w", err)
	}

	tmp := path + ".canon"
	if err := os.WriteFile(tmp, out, 0o640); err != nil {
		return "", fmt.Errorf("validate: write canonical: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return "", fmt.Errorf("validate: rename canonical: %w", err)
	}

	return target, nil
}

// detectFormat sniffs raw's container using each codec's own magic-byte
// detection (via their Decode entry points), trying cheapest/most-specific
// first. GIF, WebP and BMP headers are unambiguous; JPEG and PNG are
// distinguished by image.DecodeConfig's registered-format sniffing.
func detectFormat(raw []byte) (Format, bool) {
	if bytes.HasPrefix(raw, []byte("GIF87a")) || bytes.HasPrefix(raw, []byte("GIF89a")) {
		return FormatGIF, true
	}
	if bytes.HasPrefix(raw, []byte("RIFF")) && len(raw) > 11 && string(raw[8:12]) == "WEBP" {
		return FormatWebP, true
	}
	if bytes.HasPrefix(raw, []byte("BM")) {
		return FormatBMP, true
	}
	_, name, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return "", false
	}
	switch name {
	case "jpeg":
		return FormatJPEG, true
	case "png":
		return FormatPNG, true
	}
	return "", false
}

// Decode detects raw's format and decodes it to an image.Image, for
// callers (the Variant Engine) that need to operate on already-canonical
// stored bytes without re-running Canonicalize.
func Decode(raw []byte) (image.Image, Format, error) {
	f, ok := detectFormat(raw)
	if !ok {
		return nil, "", apierr.New(apierr.KindUnsupportedFormat, "unsupported or unrecognized image format")
	}
	img, err := decode(raw, f)
	if err != nil {
		kind := apierr.KindInvalidImage
		if f == FormatGIF {
			kind = apierr.KindGif
		}
		return nil, "", apierr.Wrap(kind, "invalid image", err)
	}
	return img, f, nil
}

// Encode re-encodes img into container format f.
func Encode(img image.Image, f Format) ([]byte, error) {
	return encode(img, f)
}

func decode(raw []byte, f Format) (image.Image, error) {
	switch f {
	case FormatJPEG:
		return jpeg.Decode(bytes.NewReader(raw))
	case FormatPNG:
		return png.Decode(bytes.NewReader(raw))
	case FormatGIF:
		return gif.Decode(bytes.NewReader(raw))
	case FormatBMP:
		return bmp.Decode(bytes.NewReader(raw))
	case FormatWebP:
		return xwebp.Decode(bytes.NewReader(raw))
	default:
		return nil, fmt.Errorf("validate: unknown format %q", f)
	}
}

// canonicalizeGIF re-encodes every frame of an animated or still GIF,
// preserving delays, disposal methods, and loop count. Unlike decode/encode
// (which round-trip through a single image.Image and so only ever see frame
// zero), this is the only path allowed to touch a GIF's full frame set — the
// thumbnail operator is deliberately restricted to frame zero by spec.
func canonicalizeGIF(raw []byte) ([]byte, error) {
	g, err := gif.DecodeAll(bytes.NewReader(raw))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindGif, "invalid GIF image", err)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(img image.Image, f Format) ([]byte, error) {
	var buf bytes.Buffer
	switch f {
	case FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
			return nil, err
		}
	case FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	case FormatGIF:
		if err := gif.Encode(&buf, img, nil); err != nil {
			return nil, err
		}
	case FormatBMP:
		if err := bmp.Encode(&buf, img); err != nil {
			return nil, err
		}
	case FormatWebP:
		if err := webp.Encode(&buf, img, webp.Options{Quality: WebPQuality}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("validate: unknown target format %q", f)
	}
	return buf.Bytes(), nil
}
