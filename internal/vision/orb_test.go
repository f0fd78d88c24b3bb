package vision

import (
	"errors"
	"testing"
)

func TestExtractFeaturesShape(t *testing.T) {
	payload := encodePNG(t, blockNoise(160, 160, 8, 42))
	set, err := ExtractFeatures(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.Empty() {
		t.Fatal("expected descriptors from a high-contrast image")
	}
	if set.Kind != ElementUint8 {
		t.Fatalf("expected uint8 descriptors, got %s", set.Kind)
	}
	if set.Width != DescriptorWidth {
		t.Fatalf("expected width %d, got %d", DescriptorWidth, set.Width)
	}
	if set.Rows > MaxKeypoints {
		t.Fatalf("keypoint budget exceeded: %d > %d", set.Rows, MaxKeypoints)
	}
	if len(set.Data) != set.Rows*set.Width {
		t.Fatalf("data length %d inconsistent with shape %dx%d", len(set.Data), set.Rows, set.Width)
	}
}

func TestExtractFeaturesIsDeterministic(t *testing.T) {
	payload := encodePNG(t, blockNoise(160, 160, 8, 43))
	first, err := ExtractFeatures(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := ExtractFeatures(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Equal(second) {
		t.Fatal("identical payloads produced different descriptor sets")
	}
}

func TestExtractFeaturesFlatImageHasNone(t *testing.T) {
	set, err := ExtractFeatures(encodePNG(t, solidGray(128, 128, 90)))
	if err != nil {
		t.Fatalf("expected absence, got error: %v", err)
	}
	if !set.Empty() {
		t.Fatalf("expected no keypoints in a uniform image, got %d", set.Rows)
	}
}

func TestExtractFeaturesTinyImageHasNone(t *testing.T) {
	set, err := ExtractFeatures(encodePNG(t, blockNoise(16, 16, 4, 44)))
	if err != nil {
		t.Fatalf("expected absence, got error: %v", err)
	}
	if !set.Empty() {
		t.Fatal("expected no keypoints when the image cannot hold the sampling patch")
	}
}

func TestExtractFeaturesUndecodableInput(t *testing.T) {
	if _, err := ExtractFeatures("definitely not an image"); !errors.Is(err, ErrImageDecode) {
		t.Fatalf("expected ErrImageDecode, got %v", err)
	}
}

func TestDescriptorSetConvert(t *testing.T) {
	set := &DescriptorSet{Kind: ElementUint8, Rows: 1, Width: 4, Data: []byte{1, 2, 3, 4}}

	same := set.Convert(ElementUint8)
	if same != set {
		t.Fatal("conversion to the same kind should be a no-op")
	}

	converted := set.Convert(ElementInt32)
	if converted.Kind != ElementInt32 {
		t.Fatalf("expected int32 kind, got %s", converted.Kind)
	}
	if set.Kind != ElementUint8 {
		t.Fatal("conversion must not mutate the receiver")
	}
	converted.Kind = ElementUint8
	if !converted.Equal(set) {
		t.Fatal("conversion must preserve shape and values")
	}
}

func TestParseElementKind(t *testing.T) {
	for _, kind := range []ElementKind{ElementUint8, ElementInt32, ElementFloat32} {
		parsed, err := ParseElementKind(kind.String())
		if err != nil {
			t.Fatalf("round trip failed for %s: %v", kind, err)
		}
		if parsed != kind {
			t.Fatalf("expected %s, got %s", kind, parsed)
		}
	}
	if _, err := ParseElementKind("complex128"); err == nil {
		t.Fatal("expected error for unsupported dtype tag")
	}
}

func TestDescriptorSetEmpty(t *testing.T) {
	var nilSet *DescriptorSet
	if !nilSet.Empty() {
		t.Fatal("nil set must be empty")
	}
	if !(&DescriptorSet{}).Empty() {
		t.Fatal("zero set must be empty")
	}
	if (&DescriptorSet{Rows: 1, Width: 1, Data: []byte{0}}).Empty() {
		t.Fatal("populated set must not be empty")
	}
}
