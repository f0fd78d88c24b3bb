package vision

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func solidGray(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

// blockNoise builds a grid of random-intensity blocks. The hard block edges
// give the corner detector plenty to find.
func blockNoise(w, h, block int, seed int64) *image.Gray {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, w, h))
	for by := 0; by < h; by += block {
		for bx := 0; bx < w; bx += block {
			v := uint8(rng.Intn(256))
			for y := by; y < by+block && y < h; y++ {
				for x := bx; x < bx+block && x < w; x++ {
					img.SetGray(x, y, color.Gray{Y: v})
				}
			}
		}
	}
	return img
}

func TestHashLengthAndAlphabet(t *testing.T) {
	payloads := map[string]string{
		"solid":     encodePNG(t, solidGray(64, 64, 128)),
		"noise":     encodePNG(t, blockNoise(128, 128, 8, 1)),
		"tiny":      encodePNG(t, blockNoise(8, 8, 2, 2)),
		"nonsquare": encodePNG(t, blockNoise(96, 48, 8, 3)),
	}
	for name, payload := range payloads {
		fp, err := Hash(payload)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if err := fp.Validate(); err != nil {
			t.Fatalf("%s: invalid fingerprint: %v", name, err)
		}
	}
}

func TestHashIsDeterministic(t *testing.T) {
	payload := encodePNG(t, blockNoise(128, 128, 8, 7))
	first, err := Hash(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Hash(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("identical payloads produced different fingerprints: %s vs %s", first, second)
	}
}

func TestHashTwoRendersOfSamePixelsAgree(t *testing.T) {
	pixels := blockNoise(128, 128, 8, 11)
	first, err := Hash(encodePNG(t, pixels))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Hash(encodePNG(t, pixels))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("two renders of the same pixels disagree: %s vs %s", first, second)
	}
}

func TestHashSolidGrayIsAllZeros(t *testing.T) {
	fp, err := Hash(encodePNG(t, solidGray(8, 8, 127)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < len(fp); i++ {
		if fp[i] != '0' {
			t.Fatalf("expected all-zero fingerprint for uniform image, got %s", fp)
		}
	}
}

func TestHashAcceptsDataURI(t *testing.T) {
	payload := encodePNG(t, blockNoise(64, 64, 8, 5))
	plain, err := Hash(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prefixed, err := Hash("data:image/png;base64," + payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plain != prefixed {
		t.Fatalf("data URI prefix changed the fingerprint: %s vs %s", plain, prefixed)
	}
}

func TestHashRejectsUndecodableInput(t *testing.T) {
	for name, payload := range map[string]string{
		"empty":        "",
		"not-base64":   "!!!not base64!!!",
		"not-an-image": base64.StdEncoding.EncodeToString([]byte("plain text, no image")),
	} {
		if _, err := Hash(payload); !errors.Is(err, ErrImageDecode) {
			t.Fatalf("%s: expected ErrImageDecode, got %v", name, err)
		}
	}
}

func TestFingerprintValidate(t *testing.T) {
	if err := Fingerprint("0101").Validate(); err == nil {
		t.Fatal("expected length error for short fingerprint")
	}
	bad := bytes.Repeat([]byte{'0'}, FingerprintBits)
	bad[10] = 'x'
	if err := Fingerprint(bad).Validate(); err == nil {
		t.Fatal("expected alphabet error for non-binary character")
	}
}
