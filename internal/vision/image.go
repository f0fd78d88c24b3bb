package vision

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// ErrImageDecode reports an input buffer that could not be decoded into an image.
var ErrImageDecode = errors.New("vision: undecodable image data")

// DecodeGrayscale decodes an image payload into a single-channel 8-bit pixel
// grid. The payload is either plain base64 or a data URI
// ("data:image/png;base64,...."); everything up to and including the first
// comma of a data URI is dropped before decoding.
func DecodeGrayscale(payload string) (*image.Gray, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrImageDecode)
	}
	if strings.HasPrefix(payload, "data:") {
		idx := strings.IndexByte(payload, ',')
		if idx < 0 {
			return nil, fmt.Errorf("%w: data URI without payload", ErrImageDecode)
		}
		payload = payload[idx+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
		}
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	return toGray(imaging.Grayscale(img)), nil
}

// toGray repacks a grayscaled NRGBA image into a single-channel grid. After
// imaging.Grayscale all three colour channels carry the same luminance value,
// so reading the red channel is sufficient.
func toGray(img *image.NRGBA) *image.Gray {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	gray := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := img.PixOffset(bounds.Min.X, bounds.Min.Y+y)
		dst := gray.PixOffset(0, y)
		for x := 0; x < w; x++ {
			gray.Pix[dst+x] = img.Pix[src+x*4]
		}
	}
	return gray
}
