// Package codec serializes descriptor sets into a portable, self-describing
// envelope and decodes every envelope form historical storage paths have ever
// written. Records are never migrated, so every legacy ingestion form stays
// supported indefinitely.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/example/biomatch/internal/vision"
)

// ErrEnvelope reports a payload that parses under none of the recognized
// envelope forms, or whose shape metadata disagrees with its data.
var ErrEnvelope = errors.New("codec: unreadable descriptor envelope")

// byteaEscapePrefix marks hex-armored payloads written through a bytea column.
const byteaEscapePrefix = `\x`

// envelope is the canonical textual serialization. The field names are
// frozen: every stored record was written with them.
type envelope struct {
	Shape []int   `json:"shape"`
	Dtype string  `json:"dtype"`
	Data  [][]int `json:"data"`
}

// decodedEnvelope mirrors envelope with float payload values so producers
// that wrote wider numeric layouts still parse.
type decodedEnvelope struct {
	Shape []int       `json:"shape"`
	Dtype string      `json:"dtype"`
	Data  [][]float64 `json:"data"`
}

// legacyMatrix is the first generation's native binary serialization of the
// raw descriptor matrix. It predates the self-describing envelope and is only
// ever read, never written.
type legacyMatrix struct {
	Rows int
	Cols int
	Pix  []byte
}

// Encode serializes a descriptor set into the canonical envelope form:
// base64 over the textual structure {shape, dtype, data}.
func Encode(set *vision.DescriptorSet) (string, error) {
	if set.Empty() {
		return "", fmt.Errorf("%w: refusing to encode an empty descriptor set", ErrEnvelope)
	}
	if set.Width <= 0 || len(set.Data) != set.Rows*set.Width {
		return "", fmt.Errorf("%w: data length %d inconsistent with shape [%d %d]",
			ErrEnvelope, len(set.Data), set.Rows, set.Width)
	}

	env := envelope{
		Shape: []int{set.Rows, set.Width},
		Dtype: set.Kind.String(),
		Data:  make([][]int, set.Rows),
	}
	for i := 0; i < set.Rows; i++ {
		row := set.Row(i)
		out := make([]int, set.Width)
		for j, v := range row {
			out[j] = int(v)
		}
		env.Data[i] = out
	}

	text, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEnvelope, err)
	}
	return base64.StdEncoding.EncodeToString(text), nil
}

// Decode parses a stored envelope payload. Dispatch order, cheapest and most
// specific check first:
//
//  1. a leading `\x` escape marker: hex-decode the remainder;
//  2. a string made entirely of hex characters: hex-decode it;
//  3. anything else: base64-decode, first as written and then with `=`
//     padding appended to the next multiple of four.
//
// Bytes produced by any branch are then parsed as the textual envelope when
// they look like UTF-8 text, or as the legacy opaque binary matrix otherwise.
func Decode(payload string) (*vision.DescriptorSet, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrEnvelope)
	}

	var raw []byte
	var err error
	switch {
	case strings.HasPrefix(payload, byteaEscapePrefix):
		raw, err = hex.DecodeString(payload[len(byteaEscapePrefix):])
		if err != nil {
			return nil, fmt.Errorf("%w: escaped hex: %v", ErrEnvelope, err)
		}
	case isHex(payload):
		raw, err = hex.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: plain hex: %v", ErrEnvelope, err)
		}
	default:
		raw, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			padded := payload + strings.Repeat("=", (4-len(payload)%4)%4)
			raw, err = base64.StdEncoding.DecodeString(padded)
			if err != nil {
				return nil, fmt.Errorf("%w: base64: %v", ErrEnvelope, err)
			}
		}
	}

	if looksTextual(raw) {
		return decodeTextual(raw)
	}
	return decodeLegacyBinary(raw)
}

// looksTextual reports whether the decoded bytes carry the textual envelope
// rather than the legacy binary matrix.
func looksTextual(raw []byte) bool {
	if !utf8.Valid(raw) {
		return false
	}
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func decodeTextual(raw []byte) (*vision.DescriptorSet, error) {
	var env decodedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope text: %v", ErrEnvelope, err)
	}
	if len(env.Shape) != 2 {
		return nil, fmt.Errorf("%w: shape has %d dimensions, want 2", ErrEnvelope, len(env.Shape))
	}
	rows, width := env.Shape[0], env.Shape[1]
	if rows < 0 || width <= 0 {
		return nil, fmt.Errorf("%w: invalid shape [%d %d]", ErrEnvelope, rows, width)
	}
	kind, err := vision.ParseElementKind(env.Dtype)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnvelope, err)
	}
	if len(env.Data) != rows {
		return nil, fmt.Errorf("%w: %d data rows inconsistent with shape [%d %d]",
			ErrEnvelope, len(env.Data), rows, width)
	}

	set := &vision.DescriptorSet{
		Kind:  kind,
		Rows:  rows,
		Width: width,
		Data:  make([]byte, 0, rows*width),
	}
	for i, row := range env.Data {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d elements, want %d", ErrEnvelope, i, len(row), width)
		}
		for _, v := range row {
			// Wider historical layouts are truncated into the byte domain,
			// matching the producer's own narrowing conversion.
			set.Data = append(set.Data, byte(int64(v)))
		}
	}
	return set, nil
}

func decodeLegacyBinary(raw []byte) (*vision.DescriptorSet, error) {
	var m legacyMatrix
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: legacy binary: %v", ErrEnvelope, err)
	}
	if m.Cols <= 0 || m.Rows <= 0 || len(m.Pix) != m.Rows*m.Cols {
		return nil, fmt.Errorf("%w: legacy matrix %dx%d inconsistent with %d bytes",
			ErrEnvelope, m.Rows, m.Cols, len(m.Pix))
	}
	return &vision.DescriptorSet{
		Kind:  vision.ElementUint8,
		Rows:  m.Rows,
		Width: m.Cols,
		Data:  m.Pix,
	}, nil
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
