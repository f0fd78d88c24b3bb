package vision

import (
	"errors"
	"fmt"
)

// DescriptorWidth is the fixed byte width of one binary descriptor (256 bits).
const DescriptorWidth = 32

// ElementKind is the closed set of numeric layouts descriptor producers have
// ever written. Historical envelopes tagged the layout with a free-form dtype
// string; every tag observed in storage maps onto one of these.
type ElementKind uint8

const (
	ElementUint8 ElementKind = iota
	ElementInt32
	ElementFloat32
)

var errUnknownElementKind = errors.New("vision: unknown element kind")

func (k ElementKind) String() string {
	switch k {
	case ElementUint8:
		return "uint8"
	case ElementInt32:
		return "int32"
	case ElementFloat32:
		return "float32"
	}
	return fmt.Sprintf("ElementKind(%d)", uint8(k))
}

// ParseElementKind maps a stored dtype tag onto the closed enumeration.
func ParseElementKind(tag string) (ElementKind, error) {
	switch tag {
	case "uint8":
		return ElementUint8, nil
	case "int32":
		return ElementInt32, nil
	case "float32":
		return ElementFloat32, nil
	}
	return 0, fmt.Errorf("%w: %q", errUnknownElementKind, tag)
}

// DescriptorSet is an ordered sequence of fixed-width binary feature vectors,
// one per detected keypoint. Data holds Rows*Width samples row-major, one byte
// per element value; Kind records the numeric layout the set was produced
// under and only matters at the serialization and matching boundaries.
type DescriptorSet struct {
	Kind  ElementKind
	Rows  int
	Width int
	Data  []byte
}

// Empty reports whether the set carries no descriptors. A nil set is empty.
func (s *DescriptorSet) Empty() bool {
	return s == nil || s.Rows == 0 || len(s.Data) == 0
}

// Row returns the i-th descriptor without copying.
func (s *DescriptorSet) Row(i int) []byte {
	return s.Data[i*s.Width : (i+1)*s.Width]
}

// Clone returns a deep copy of the set.
func (s *DescriptorSet) Clone() *DescriptorSet {
	if s == nil {
		return nil
	}
	out := &DescriptorSet{Kind: s.Kind, Rows: s.Rows, Width: s.Width}
	out.Data = make([]byte, len(s.Data))
	copy(out.Data, s.Data)
	return out
}

// Convert retargets the set to another element kind. Element values already
// live on the 0-255 domain, so conversion is a tag change; wider source
// layouts are truncated into that domain when they are decoded.
func (s *DescriptorSet) Convert(kind ElementKind) *DescriptorSet {
	if s == nil || s.Kind == kind {
		return s
	}
	out := s.Clone()
	out.Kind = kind
	return out
}

// Equal reports whether two sets agree on shape, kind and every value.
func (s *DescriptorSet) Equal(o *DescriptorSet) bool {
	if s.Empty() && o.Empty() {
		return true
	}
	if s.Empty() != o.Empty() {
		return false
	}
	if s.Kind != o.Kind || s.Rows != o.Rows || s.Width != o.Width || len(s.Data) != len(o.Data) {
		return false
	}
	for i := range s.Data {
		if s.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}
