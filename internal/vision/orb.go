package vision

import (
	"image"
	"math"
	"math/rand"
	"sort"
)

// MaxKeypoints is the detector's keypoint budget per image.
const MaxKeypoints = 500

const (
	// fastThreshold is the minimum absolute intensity difference for a circle
	// pixel to count towards a FAST corner.
	fastThreshold = 20
	// fastArc is the number of contiguous circle pixels required (FAST-9/16).
	fastArc = 9
	// patternRadius bounds the BRIEF sampling offsets before rotation.
	patternRadius = 13
	// patchRadius is the radius of the orientation patch.
	patchRadius = 15
	// edgeMargin keeps rotated sampling points inside the image
	// (patternRadius * sqrt2 rounded up).
	edgeMargin = 19
)

// fastCircle is the Bresenham circle of radius 3, clockwise from the top.
var fastCircle = [16][2]int{
	{0, -3}, {1, -3}, {2, -2}, {3, -1},
	{3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
	{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

// briefPattern holds the 256 point pairs sampled by the descriptor. The
// pattern is fixed at startup from a constant seed: every process derives the
// same pattern, so descriptors stay comparable across machines and restarts.
var briefPattern [256][4]int

func init() {
	rng := rand.New(rand.NewSource(0x3a8f05c5))
	const sigma = float64(patternRadius) / 2
	sample := func() int {
		v := int(math.Round(rng.NormFloat64() * sigma))
		if v > patternRadius {
			v = patternRadius
		}
		if v < -patternRadius {
			v = -patternRadius
		}
		return v
	}
	for i := range briefPattern {
		briefPattern[i] = [4]int{sample(), sample(), sample(), sample()}
	}
}

type keypoint struct {
	x, y  int
	score int
	angle float64
}

// ExtractFeatures decodes an image payload and produces its binary descriptor
// set. A payload that does not decode fails with ErrImageDecode; an image
// that yields zero keypoints returns (nil, nil); absent features are an
// expected outcome, not a fault.
func ExtractFeatures(payload string) (*DescriptorSet, error) {
	gray, err := DecodeGrayscale(payload)
	if err != nil {
		return nil, err
	}
	set := extractGray(gray)
	if set.Empty() {
		return nil, nil
	}
	return set, nil
}

// extractGray runs the ORB-style pipeline: FAST corner detection with
// non-maximum suppression, a top-MaxKeypoints response cut, intensity-centroid
// orientation, and a steered 256-bit BRIEF descriptor per surviving keypoint.
// Keypoints are emitted in descending response order; callers must not rely
// on any stronger ordering.
func extractGray(gray *image.Gray) *DescriptorSet {
	w := gray.Rect.Dx()
	h := gray.Rect.Dy()
	if w < 2*edgeMargin+1 || h < 2*edgeMargin+1 {
		return nil
	}

	keypoints := detectCorners(gray, w, h)
	if len(keypoints) == 0 {
		return nil
	}

	sort.SliceStable(keypoints, func(i, j int) bool {
		return keypoints[i].score > keypoints[j].score
	})
	if len(keypoints) > MaxKeypoints {
		keypoints = keypoints[:MaxKeypoints]
	}

	for i := range keypoints {
		keypoints[i].angle = orientation(gray, w, h, keypoints[i].x, keypoints[i].y)
	}

	blurred := boxBlur(gray, w, h)

	set := &DescriptorSet{
		Kind:  ElementUint8,
		Rows:  len(keypoints),
		Width: DescriptorWidth,
		Data:  make([]byte, len(keypoints)*DescriptorWidth),
	}
	for i, kp := range keypoints {
		describe(blurred, w, kp, set.Data[i*DescriptorWidth:(i+1)*DescriptorWidth])
	}
	return set
}

// detectCorners runs FAST-9/16 over the interior and suppresses non-maxima in
// a 3x3 neighbourhood of the response map.
func detectCorners(gray *image.Gray, w, h int) []keypoint {
	scores := make([]int, w*h)
	var raw []keypoint
	for y := edgeMargin; y < h-edgeMargin; y++ {
		for x := edgeMargin; x < w-edgeMargin; x++ {
			s := fastScore(gray, x, y)
			if s > 0 {
				scores[y*w+x] = s
				raw = append(raw, keypoint{x: x, y: y, score: s})
			}
		}
	}

	keypoints := raw[:0]
	for _, kp := range raw {
		s := kp.score
		if s < scores[(kp.y-1)*w+kp.x-1] || s < scores[(kp.y-1)*w+kp.x] || s < scores[(kp.y-1)*w+kp.x+1] ||
			s < scores[kp.y*w+kp.x-1] || s <= scores[kp.y*w+kp.x+1] ||
			s <= scores[(kp.y+1)*w+kp.x-1] || s <= scores[(kp.y+1)*w+kp.x] || s <= scores[(kp.y+1)*w+kp.x+1] {
			continue
		}
		keypoints = append(keypoints, kp)
	}
	return keypoints
}

// fastScore returns a corner response for (x, y), or 0 when the pixel is not
// a FAST-9/16 corner. The response is the summed absolute difference of the
// circle pixels that clear the threshold.
func fastScore(gray *image.Gray, x, y int) int {
	center := int(gray.GrayAt(x, y).Y)
	hi := center + fastThreshold
	lo := center - fastThreshold

	// Cheap reject on the four cardinal circle pixels: a corner needs at
	// least three of them on the same side of the threshold band.
	brighter, darker := 0, 0
	for _, i := range [4]int{0, 4, 8, 12} {
		v := int(gray.GrayAt(x+fastCircle[i][0], y+fastCircle[i][1]).Y)
		if v > hi {
			brighter++
		} else if v < lo {
			darker++
		}
	}
	if brighter < 3 && darker < 3 {
		return 0
	}

	var ring [16]int
	for i, off := range fastCircle {
		ring[i] = int(gray.GrayAt(x+off[0], y+off[1]).Y)
	}

	if !hasArc(ring, hi, lo) {
		return 0
	}

	score := 0
	for _, v := range ring {
		if v > hi {
			score += v - center - fastThreshold
		} else if v < lo {
			score += center - v - fastThreshold
		}
	}
	if score == 0 {
		score = 1
	}
	return score
}

// hasArc reports whether at least fastArc contiguous ring values (with
// wrap-around) all exceed hi or all fall below lo.
func hasArc(ring [16]int, hi, lo int) bool {
	runBright, runDark := 0, 0
	for i := 0; i < 16+fastArc; i++ {
		v := ring[i%16]
		if v > hi {
			runBright++
			if runBright >= fastArc {
				return true
			}
		} else {
			runBright = 0
		}
		if v < lo {
			runDark++
			if runDark >= fastArc {
				return true
			}
		} else {
			runDark = 0
		}
	}
	return false
}

// orientation computes the intensity-centroid angle of the patch around
// (cx, cy): atan2 of the first-order moments over a disc of patchRadius.
func orientation(gray *image.Gray, w, h, cx, cy int) float64 {
	var m10, m01 int
	for dy := -patchRadius; dy <= patchRadius; dy++ {
		y := cy + dy
		if y < 0 || y >= h {
			continue
		}
		for dx := -patchRadius; dx <= patchRadius; dx++ {
			if dx*dx+dy*dy > patchRadius*patchRadius {
				continue
			}
			x := cx + dx
			if x < 0 || x >= w {
				continue
			}
			v := int(gray.GrayAt(x, y).Y)
			m10 += dx * v
			m01 += dy * v
		}
	}
	return math.Atan2(float64(m01), float64(m10))
}

// describe fills dst with the steered BRIEF descriptor of one keypoint: each
// pattern pair is rotated by the keypoint angle and the bit is set when the
// first sample is darker than the second.
func describe(blurred []byte, w int, kp keypoint, dst []byte) {
	sin, cos := math.Sincos(kp.angle)
	for bit, p := range briefPattern {
		x1 := kp.x + rotX(p[0], p[1], cos, sin)
		y1 := kp.y + rotY(p[0], p[1], cos, sin)
		x2 := kp.x + rotX(p[2], p[3], cos, sin)
		y2 := kp.y + rotY(p[2], p[3], cos, sin)
		if blurred[y1*w+x1] < blurred[y2*w+x2] {
			dst[bit>>3] |= 1 << uint(bit&7)
		}
	}
}

func rotX(x, y int, cos, sin float64) int {
	return int(math.Round(cos*float64(x) - sin*float64(y)))
}

func rotY(x, y int, cos, sin float64) int {
	return int(math.Round(sin*float64(x) + cos*float64(y)))
}

// boxBlur returns a 5x5 box-smoothed copy of the image. BRIEF comparisons on
// raw pixels are noise-dominated; the smoothing matches the pre-filter the
// descriptor pattern was tuned for.
func boxBlur(gray *image.Gray, w, h int) []byte {
	out := make([]byte, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum, count int
			for dy := -2; dy <= 2; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				for dx := -2; dx <= 2; dx++ {
					xx := x + dx
					if xx < 0 || xx >= w {
						continue
					}
					sum += int(gray.GrayAt(xx, yy).Y)
					count++
				}
			}
			out[y*w+x] = byte(sum / count)
		}
	}
	return out
}
