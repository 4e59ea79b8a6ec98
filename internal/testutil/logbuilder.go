// Package testutil builds synthetic DataFlash logs for tests.
package testutil

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

var widths = map[byte]int{
	'b': 1, 'B': 1, 'M': 1,
	'h': 2, 'H': 2, 'c': 2, 'C': 2,
	'i': 4, 'I': 4, 'f': 4, 'e': 4, 'E': 4, 'L': 4, 'n': 4,
	'd': 8, 'q': 8, 'Q': 8,
	'N': 16,
	'Z': 64, 'a': 64,
}

// LogBuilder appends DataFlash records to an in-memory buffer. Record values
// are given in engineering units; scaled format characters are encoded back
// to their raw integer form.
type LogBuilder struct {
	buf     []byte
	formats map[uint8]string
}

func NewLogBuilder() *LogBuilder {
	return &LogBuilder{formats: make(map[uint8]string)}
}

// Length returns the full record length (header included) of a format string.
func Length(format string) int {
	n := 3
	for i := 0; i < len(format); i++ {
		n += widths[format[i]]
	}
	return n
}

// FMT writes a schema record with the length computed from format.
func (b *LogBuilder) FMT(typ uint8, name, format, labels string) *LogBuilder {
	return b.FMTWithLength(typ, Length(format), name, format, labels)
}

// FMTWithLength writes a schema record with an explicit declared length.
func (b *LogBuilder) FMTWithLength(typ uint8, length int, name, format, labels string) *LogBuilder {
	b.formats[typ] = format
	rec := make([]byte, 89)
	rec[0], rec[1], rec[2] = 0xA3, 0x95, 0x80
	rec[3] = typ
	rec[4] = byte(length)
	copy(rec[5:9], name)
	copy(rec[9:25], format)
	copy(rec[25:89], labels)
	b.buf = append(b.buf, rec...)
	return b
}

// Record writes a data record of a type previously declared with FMT.
func (b *LogBuilder) Record(typ uint8, values ...any) *LogBuilder {
	format, ok := b.formats[typ]
	if !ok {
		panic(fmt.Sprintf("testutil: no FMT for type %d", typ))
	}
	if len(values) != len(format) {
		panic(fmt.Sprintf("testutil: type %d wants %d values, got %d", typ, len(format), len(values)))
	}
	b.buf = append(b.buf, 0xA3, 0x95, typ)
	for i := 0; i < len(format); i++ {
		b.buf = appendField(b.buf, format[i], values[i])
	}
	return b
}

// Raw appends bytes verbatim.
func (b *LogBuilder) Raw(p ...byte) *LogBuilder {
	b.buf = append(b.buf, p...)
	return b
}

func (b *LogBuilder) Bytes() []byte {
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

func appendField(buf []byte, c byte, v any) []byte {
	le := binary.LittleEndian
	switch c {
	case 'b':
		return append(buf, byte(int8(toInt(v))))
	case 'B', 'M':
		return append(buf, byte(toInt(v)))
	case 'h':
		return le.AppendUint16(buf, uint16(int16(toInt(v))))
	case 'H':
		return le.AppendUint16(buf, uint16(toInt(v)))
	case 'i':
		return le.AppendUint32(buf, uint32(int32(toInt(v))))
	case 'I':
		return le.AppendUint32(buf, uint32(toInt(v)))
	case 'q', 'Q':
		return le.AppendUint64(buf, uint64(toInt(v)))
	case 'f':
		return le.AppendUint32(buf, math.Float32bits(float32(toFloat(v))))
	case 'd':
		return le.AppendUint64(buf, math.Float64bits(toFloat(v)))
	case 'c':
		return le.AppendUint16(buf, uint16(int16(math.Round(toFloat(v)*100))))
	case 'C':
		return le.AppendUint16(buf, uint16(math.Round(toFloat(v)*100)))
	case 'e':
		return le.AppendUint32(buf, uint32(int32(math.Round(toFloat(v)*100))))
	case 'E':
		return le.AppendUint32(buf, uint32(math.Round(toFloat(v)*100)))
	case 'L':
		return le.AppendUint32(buf, uint32(int32(math.Round(toFloat(v)*1e7))))
	case 'n', 'N', 'Z':
		field := make([]byte, widths[c])
		copy(field, v.(string))
		return append(buf, field...)
	case 'a':
		field := make([]byte, 64)
		for i, x := range v.([]int16) {
			if i >= 32 {
				break
			}
			le.PutUint16(field[i*2:], uint16(x))
		}
		return append(buf, field...)
	}
	panic(fmt.Sprintf("testutil: unsupported format char %q", c))
}

func toInt(v any) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int64:
		return x
	case uint64:
		return int64(x)
	case float64:
		return int64(x)
	case string:
		if len(x) == 1 {
			return int64(x[0])
		}
	}
	panic(fmt.Sprintf("testutil: cannot encode %T as integer", v))
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	}
	panic(fmt.Sprintf("testutil: cannot encode %T as float", v))
}

// Labels joins field names into a FMT label list.
func Labels(fields ...string) string {
	return strings.Join(fields, ",")
}
