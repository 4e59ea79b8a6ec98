package telemetry

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

const (
	HeaderByte1 = 0xA3
	HeaderByte2 = 0x95
	HeaderLen   = 3

	// FMTType is the message type of schema-definition records.
	FMTType = 0x80
	// FMTLength is the full length of a FMT record including its header.
	FMTLength = 89
)

// fieldWidths maps a DataFlash format character to its encoded width in bytes.
var fieldWidths = map[byte]int{
	'b': 1, 'B': 1, 'M': 1,
	'h': 2, 'H': 2, 'c': 2, 'C': 2,
	'i': 4, 'I': 4, 'f': 4, 'e': 4, 'E': 4, 'L': 4, 'n': 4,
	'd': 8, 'q': 8, 'Q': 8,
	'N': 16,
	'Z': 64, 'a': 64,
}

// Schema describes how to interpret the payload of one message type.
type Schema struct {
	Type   uint8    `json:"type"`
	Name   string   `json:"name"`
	Length int      `json:"length"`
	Format string   `json:"format"`
	Fields []string `json:"fields"`
	Units  []string `json:"units,omitempty"`
}

func newSchema(typ uint8, length int, name, format, labels string) (*Schema, error) {
	s := &Schema{
		Type:   typ,
		Name:   name,
		Length: length,
		Format: format,
	}
	if labels != "" {
		s.Fields = strings.Split(labels, ",")
	}
	if len(s.Fields) != len(format) {
		return s, fmt.Errorf("schema %s: %d labels for %d format chars", name, len(s.Fields), len(format))
	}
	width := HeaderLen
	for i := 0; i < len(format); i++ {
		w, ok := fieldWidths[format[i]]
		if !ok {
			return s, fmt.Errorf("schema %s: unsupported format char %q", name, format[i])
		}
		width += w
	}
	if width != length {
		return s, fmt.Errorf("schema %s: declared length %d, computed %d", name, length, width)
	}
	return s, nil
}

// FieldIndex returns the position of the named field or -1.
func (s *Schema) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f == name {
			return i
		}
	}
	return -1
}

// Unit returns the unit label of field i, if known.
func (s *Schema) Unit(i int) string {
	if i < 0 || i >= len(s.Units) {
		return ""
	}
	return s.Units[i]
}

// decodePayload decodes payload according to the schema's format string.
// The payload must be exactly Length-HeaderLen bytes.
func (s *Schema) decodePayload(payload []byte) []Value {
	values := make([]Value, len(s.Format))
	off := 0
	for i := 0; i < len(s.Format); i++ {
		c := s.Format[i]
		w := fieldWidths[c]
		values[i] = decodeField(c, payload[off:off+w])
		off += w
	}
	return values
}

func decodeField(c byte, p []byte) Value {
	le := binary.LittleEndian
	switch c {
	case 'b':
		return IntValue(int64(int8(p[0])))
	case 'B', 'M':
		return UintValue(uint64(p[0]))
	case 'h':
		return IntValue(int64(int16(le.Uint16(p))))
	case 'H':
		return UintValue(uint64(le.Uint16(p)))
	case 'i':
		return IntValue(int64(int32(le.Uint32(p))))
	case 'I':
		return UintValue(uint64(le.Uint32(p)))
	case 'q':
		return IntValue(int64(le.Uint64(p)))
	case 'Q':
		return UintValue(le.Uint64(p))
	case 'f':
		return FloatValue(float64(math.Float32frombits(le.Uint32(p))))
	case 'd':
		return FloatValue(math.Float64frombits(le.Uint64(p)))
	case 'c':
		return FloatValue(float64(int16(le.Uint16(p))) / 100)
	case 'C':
		return FloatValue(float64(le.Uint16(p)) / 100)
	case 'e':
		return FloatValue(float64(int32(le.Uint32(p))) / 100)
	case 'E':
		return FloatValue(float64(le.Uint32(p)) / 100)
	case 'L':
		return FloatValue(float64(int32(le.Uint32(p))) * 1e-7)
	case 'n', 'N', 'Z':
		return TextValue(cString(p))
	case 'a':
		arr := make([]int16, len(p)/2)
		for i := range arr {
			arr[i] = int16(le.Uint16(p[i*2:]))
		}
		return Value{Kind: KindArray, Array: arr}
	}
	return Value{}
}

func cString(p []byte) string {
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	return strings.TrimSpace(string(p))
}

// parseFMT decodes the payload of a FMT record.
func parseFMT(payload []byte) (typ uint8, length int, name, format, labels string) {
	typ = payload[0]
	length = int(payload[1])
	name = cString(payload[2:6])
	format = cString(payload[6:22])
	labels = cString(payload[22:86])
	return
}
