package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/set-night/skylog/internal/domain"
	"github.com/set-night/skylog/internal/telemetry"
)

// MessageDoc is reference documentation for one log message type.
type MessageDoc struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// DocSource looks up message documentation. A nil DocSource is allowed.
type DocSource interface {
	Lookup(name string) (MessageDoc, bool)
}

// Call is a tool invocation requested by a model.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

type handler func(ds *telemetry.Dataset, args Args) (any, error)

// Dispatcher validates calls and runs them against a dataset. Tools only read
// the dataset and never block, so Invoke takes no context.
type Dispatcher struct {
	detect   func(*telemetry.Dataset) []telemetry.Anomaly
	docs     DocSource
	handlers map[string]handler
}

func NewDispatcher(detect func(*telemetry.Dataset) []telemetry.Anomaly, docs DocSource) *Dispatcher {
	d := &Dispatcher{detect: detect, docs: docs}
	d.handlers = map[string]handler{
		QueryFlightData: d.queryFlightData,
		GetTimeSeries:   d.getTimeSeries,
		DetectAnomalies: d.detectAnomalies,
		GetMessageData:  d.getMessageData,
		DescribeMessage: d.describeMessage,
	}
	return d
}

// Invoke runs one call. The returned record is always usable as a tool
// result: on failure its status is error and its output carries the message.
// The error is domain.ErrUnknownTool, domain.ErrNoDataset or
// domain.ErrInvalidArguments wrapped with detail.
func (d *Dispatcher) Invoke(call Call, ds *telemetry.Dataset) (domain.ToolCallRecord, error) {
	rec := domain.ToolCallRecord{
		ID:        call.ID,
		Name:      call.Name,
		Arguments: normalizeArgs(call.Arguments),
	}

	out, err := d.run(call, ds)
	if err != nil {
		rec.Status = domain.ToolStatusError
		rec.Output = errorOutput(err)
		return rec, err
	}
	payload, err := json.Marshal(out)
	if err != nil {
		err = fmt.Errorf("encode %s output: %w", call.Name, err)
		rec.Status = domain.ToolStatusError
		rec.Output = errorOutput(err)
		return rec, err
	}
	rec.Status = domain.ToolStatusOK
	rec.Output = payload
	return rec, nil
}

func (d *Dispatcher) run(call Call, ds *telemetry.Dataset) (any, error) {
	spec, ok := Lookup(call.Name)
	h, known := d.handlers[call.Name]
	if !ok || !known {
		return nil, fmt.Errorf("%w: %q (catalog v%s)", domain.ErrUnknownTool, call.Name, Version)
	}
	if ds == nil {
		return nil, domain.ErrNoDataset
	}
	args, err := parseArgs(spec, call.Arguments)
	if err != nil {
		return nil, err
	}
	if err := checkFlightRange(ds, args); err != nil {
		return nil, err
	}
	return h(ds, args)
}

func checkFlightRange(ds *telemetry.Dataset, args Args) error {
	meta := ds.Metadata()
	if start := args.Uint("start_us"); start != nil && *start > meta.EndTimeUS {
		return invalid("start_us %d is after the end of the flight (%d)", *start, meta.EndTimeUS)
	}
	if end := args.Uint("end_us"); end != nil && *end < meta.StartTimeUS {
		return invalid("end_us %d is before the start of the flight (%d)", *end, meta.StartTimeUS)
	}
	return nil
}

func normalizeArgs(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return json.RawMessage("{}")
	}
	return raw
}

func errorOutput(err error) json.RawMessage {
	kind := "tool_failed"
	switch {
	case errors.Is(err, domain.ErrUnknownTool):
		kind = "unknown_tool"
	case errors.Is(err, domain.ErrInvalidArguments):
		kind = "invalid_arguments"
	case errors.Is(err, domain.ErrNoDataset):
		kind = "no_dataset"
	}
	out, _ := json.Marshal(map[string]string{"error": err.Error(), "kind": kind})
	return out
}
