// Package telemetry decodes ArduPilot DataFlash (.bin) flight logs into typed
// time series with derived flight metadata.
package telemetry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/set-night/skylog/internal/domain"
)

// Skip reasons reported in Metadata.SkipReasons.
const (
	SkipBadHeader   = "bad_header"
	SkipUnknownType = "unknown_type"
	SkipUnsupported = "unsupported_type"
	SkipTruncated   = "truncated"
	SkipOutOfOrder  = "out_of_order"
)

// ctxCheckInterval is how many records are decoded between context checks.
const ctxCheckInterval = 4096

var magic = []byte{HeaderByte1, HeaderByte2}

// DecodeOption tunes how metadata is derived from a decoded log.
type DecodeOption func(*decodeOptions)

type decodeOptions struct {
	rcLossPWM float64
}

// WithRCLossPWM sets the pulse width every RC channel must fall below to count
// as an RC loss event in the metadata. Values <= 0 keep RCLossPWM.
func WithRCLossPWM(pwm float64) DecodeOption {
	return func(o *decodeOptions) {
		if pwm > 0 {
			o.rcLossPWM = pwm
		}
	}
}

// DecodeReader reads the whole stream and decodes it.
func DecodeReader(ctx context.Context, r io.Reader, opts ...DecodeOption) (*Dataset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return Decode(ctx, data, opts...)
}

// Decode parses a DataFlash log in a single pass. It fails with
// domain.ErrMalformedLog only when data does not start with a record header;
// individual bad records are skipped and counted in the metadata.
func Decode(ctx context.Context, data []byte, opts ...DecodeOption) (*Dataset, error) {
	if len(data) < HeaderLen || !bytes.HasPrefix(data, magic) {
		return nil, fmt.Errorf("%w: missing DataFlash header", domain.ErrMalformedLog)
	}
	o := decodeOptions{rcLossPWM: RCLossPWM}
	for _, opt := range opts {
		opt(&o)
	}

	dec := &decoder{
		data:        data,
		schemas:     make(map[uint8]*Schema),
		unsupported: make(map[uint8]int),
		ds: &Dataset{
			series:  make(map[string][]Record),
			schemas: make(map[string]*Schema),
		},
		skips: make(map[string]int),
	}
	if err := dec.run(ctx); err != nil {
		return nil, err
	}
	dec.ds.applyUnits()
	dec.ds.meta = computeMetadata(dec.ds, dec.skips, dec.schemaCount, o.rcLossPWM)
	return dec.ds, nil
}

type decoder struct {
	data        []byte
	pos         int
	schemas     map[uint8]*Schema
	unsupported map[uint8]int
	ds          *Dataset
	skips       map[string]int
	schemaCount int
	lastTime    uint64
}

func (d *decoder) run(ctx context.Context) error {
	for n := 0; d.pos < len(d.data); n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return fmt.Errorf("%w: after %d bytes", domain.ErrDecodeTimeout, d.pos)
				}
				return fmt.Errorf("decode log: %w", err)
			}
		}

		remaining := len(d.data) - d.pos
		if remaining < HeaderLen {
			d.skip(SkipTruncated)
			return nil
		}
		if d.data[d.pos] != HeaderByte1 || d.data[d.pos+1] != HeaderByte2 {
			d.skip(SkipBadHeader)
			d.resync(d.pos + 1)
			continue
		}

		typ := d.data[d.pos+2]
		if typ == FMTType {
			if !d.readFMT() {
				return nil
			}
			continue
		}

		schema, ok := d.schemas[typ]
		if !ok {
			if length, bad := d.unsupported[typ]; bad && length >= HeaderLen {
				d.skip(SkipUnsupported)
				if d.pos+length > len(d.data) {
					d.skip(SkipTruncated)
					return nil
				}
				d.pos += length
				continue
			}
			d.skip(SkipUnknownType)
			d.resync(d.pos + HeaderLen)
			continue
		}

		if d.pos+schema.Length > len(d.data) {
			d.skip(SkipTruncated)
			return nil
		}
		payload := d.data[d.pos+HeaderLen : d.pos+schema.Length]
		d.pos += schema.Length
		d.append(schema, schema.decodePayload(payload))
	}
	return nil
}

// readFMT consumes one FMT record. It returns false when the stream ends inside it.
func (d *decoder) readFMT() bool {
	if d.pos+FMTLength > len(d.data) {
		d.skip(SkipTruncated)
		d.pos = len(d.data)
		return false
	}
	payload := d.data[d.pos+HeaderLen : d.pos+FMTLength]
	d.pos += FMTLength
	d.schemaCount++

	typ, length, name, format, labels := parseFMT(payload)
	if typ == FMTType {
		return true
	}
	schema, err := newSchema(typ, length, name, format, labels)
	if err == nil {
		err = d.checkLayout(schema)
	}
	if err != nil {
		delete(d.schemas, typ)
		delete(d.unsupported, typ)
		// A length shorter than a header cannot be stepped over; such
		// records fall back to unknown_type and resync.
		if length >= HeaderLen {
			d.unsupported[typ] = length
		}
		return true
	}
	delete(d.unsupported, typ)
	d.schemas[typ] = schema
	d.ds.schemas[name] = schema
	return true
}

// checkLayout rejects a schema whose name is already bound to a different
// field layout, so every record in a series shares one schema.
func (d *decoder) checkLayout(s *Schema) error {
	prev, ok := d.ds.schemas[s.Name]
	if !ok || (prev.Format == s.Format && slices.Equal(prev.Fields, s.Fields)) {
		return nil
	}
	return fmt.Errorf("schema %s: redefined as %q, already %q", s.Name, s.Format, prev.Format)
}

func (d *decoder) append(schema *Schema, values []Value) {
	ts := d.lastTime
	if len(schema.Fields) > 0 {
		switch schema.Fields[0] {
		case "TimeUS":
			ts = unsignedTime(values[0], 1)
		case "TimeMS":
			ts = unsignedTime(values[0], 1000)
		}
	}

	series := d.ds.series[schema.Name]
	if n := len(series); n > 0 && ts < series[n-1].Timestamp {
		d.skip(SkipOutOfOrder)
		return
	}
	if ts > d.lastTime {
		d.lastTime = ts
	}
	d.ds.series[schema.Name] = append(series, Record{Type: schema.Type, Timestamp: ts, Values: values})
}

func unsignedTime(v Value, scale uint64) uint64 {
	switch v.Kind {
	case KindUint:
		return v.Uint * scale
	case KindInt:
		if v.Int > 0 {
			return uint64(v.Int) * scale
		}
	case KindFloat:
		if v.Float > 0 {
			return uint64(v.Float) * scale
		}
	}
	return 0
}

// resync moves to the next record header at or after from, or to the end.
func (d *decoder) resync(from int) {
	if from >= len(d.data) {
		d.pos = len(d.data)
		return
	}
	i := bytes.Index(d.data[from:], magic)
	if i < 0 {
		d.pos = len(d.data)
		return
	}
	d.pos = from + i
}

func (d *decoder) skip(reason string) {
	d.skips[reason]++
}
