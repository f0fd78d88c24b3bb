package vision

import (
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
)

// FingerprintBits is the fixed length of a perceptual fingerprint.
const FingerprintBits = 64

// hashGrid is the side length of the downsampled grid the fingerprint is
// derived from.
const hashGrid = 8

// Fingerprint is a 64-character string of '0'/'1' characters derived from
// average-luminance thresholding of an 8x8 downsampled image. It is a
// similarity hash: small pixel perturbations flip a bounded number of bits.
// It is not suitable for cryptographic uses.
type Fingerprint string

// Validate reports whether the fingerprint holds exactly 64 binary characters.
func (f Fingerprint) Validate() error {
	if len(f) != FingerprintBits {
		return fmt.Errorf("vision: fingerprint length %d, want %d", len(f), FingerprintBits)
	}
	for i := 0; i < len(f); i++ {
		if c := f[i]; c != '0' && c != '1' {
			return fmt.Errorf("vision: fingerprint has non-binary character %q at %d", c, i)
		}
	}
	return nil
}

// Hash derives the perceptual fingerprint of an image payload. It fails with
// ErrImageDecode when the payload cannot be decoded into a grayscale image;
// identical payloads always yield the identical fingerprint.
func Hash(payload string) (Fingerprint, error) {
	gray, err := DecodeGrayscale(payload)
	if err != nil {
		return "", err
	}
	return hashGray(gray), nil
}

// hashGray resizes with a box (area-averaging) filter, flattens row-major,
// and emits one bit per sample: '1' iff the sample strictly exceeds the mean.
// The result is left-padded with '0' to exactly FingerprintBits characters;
// the padding is a hard invariant even though the 8x8 grid already yields 64
// samples.
func hashGray(gray *image.Gray) Fingerprint {
	resized := imaging.Resize(gray, hashGrid, hashGrid, imaging.Box)

	samples := make([]float64, 0, hashGrid*hashGrid)
	var sum float64
	for y := 0; y < hashGrid; y++ {
		for x := 0; x < hashGrid; x++ {
			v := float64(resized.Pix[resized.PixOffset(x, y)])
			samples = append(samples, v)
			sum += v
		}
	}
	mean := sum / float64(len(samples))

	var bits strings.Builder
	bits.Grow(FingerprintBits)
	for _, v := range samples {
		if v > mean {
			bits.WriteByte('1')
		} else {
			bits.WriteByte('0')
		}
	}

	s := bits.String()
	if len(s) < FingerprintBits {
		s = strings.Repeat("0", FingerprintBits-len(s)) + s
	}
	return Fingerprint(s)
}
