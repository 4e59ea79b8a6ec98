// Package tools is the fixed catalog of read-only queries a chat model may run
// against a decoded flight.
package tools

import "github.com/set-night/skylog/internal/anomaly"

// Version identifies the catalog revision. It changes whenever a tool, a
// parameter or an output shape changes.
const Version = "1"

const (
	QueryFlightData = "query_flight_data"
	GetTimeSeries   = "get_time_series"
	DetectAnomalies = "detect_anomalies"
	GetMessageData  = "get_message_data"
	DescribeMessage = "describe_message"
)

type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
)

type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
	Min         *float64
	Max         *float64
	Default     any
}

// Spec describes one tool to model providers.
type Spec struct {
	Name        string
	Description string
	Params      []Param
}

// JSONSchema renders the parameters as a JSON Schema object.
func (s Spec) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Params))
	required := []string{}
	for _, p := range s.Params {
		prop := map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Min != nil {
			prop["minimum"] = *p.Min
		}
		if p.Max != nil {
			prop["maximum"] = *p.Max
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func (s Spec) param(name string) (Param, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

func bound(v float64) *float64 { return &v }

const (
	defaultMaxPoints = 500
	maxMaxPoints     = 5000
	defaultLimit     = 10
	maxLimit         = 100
)

var (
	startParam = Param{
		Name:        "start_us",
		Type:        TypeInteger,
		Description: "Window start, microseconds since boot (inclusive).",
		Min:         bound(0),
	}
	endParam = Param{
		Name:        "end_us",
		Type:        TypeInteger,
		Description: "Window end, microseconds since boot (inclusive).",
		Min:         bound(0),
	}
)

var catalog = []Spec{
	{
		Name: QueryFlightData,
		Description: "Read flight summary values or aggregate one field. field_path is \"metadata\", " +
			"\"metadata.<key>\" (e.g. metadata.altitude_m, metadata.errors) or \"<MESSAGE>.<Field>\" " +
			"(e.g. GPS.Alt, BAT.Volt) for count, min, max, mean, stddev, first and last over the window.",
		Params: []Param{
			{Name: "field_path", Type: TypeString, Required: true, Description: "metadata, metadata.<key> or MESSAGE.Field"},
			startParam,
			endParam,
		},
	},
	{
		Name: GetTimeSeries,
		Description: "Return the ordered (time_us, value) samples of one field of one message type. " +
			"Long series are evenly downsampled to max_points.",
		Params: []Param{
			{Name: "message_type", Type: TypeString, Required: true, Description: "Message type, e.g. GPS, BAT, ATT, VIBE"},
			{Name: "field", Type: TypeString, Required: true, Description: "Field name, e.g. Alt, Volt, Roll, VibeX"},
			startParam,
			endParam,
			{
				Name: "max_points", Type: TypeInteger, Description: "Upper bound on returned samples",
				Min: bound(1), Max: bound(maxMaxPoints), Default: defaultMaxPoints,
			},
		},
	},
	{
		Name: DetectAnomalies,
		Description: "List rule-based anomalies found in the flight (altitude rate, battery voltage drop, " +
			"GPS loss, vibration, attitude rate, RC loss, logged errors) with time ranges and raw evidence.",
		Params: []Param{
			{Name: "category", Type: TypeString, Description: "Only return this category", Enum: anomaly.Categories},
		},
	},
	{
		Name:        GetMessageData,
		Description: "Return raw records of one message type as field maps, starting at start_us.",
		Params: []Param{
			{Name: "message_type", Type: TypeString, Required: true, Description: "Message type, e.g. MODE, ERR, GPS"},
			startParam,
			{
				Name: "limit", Type: TypeInteger, Description: "Maximum records to return",
				Min: bound(1), Max: bound(maxLimit), Default: defaultLimit,
			},
		},
	},
	{
		Name: DescribeMessage,
		Description: "Without arguments list the message types in the log with record counts. " +
			"With message_type return its fields, units and documentation.",
		Params: []Param{
			{Name: "message_type", Type: TypeString, Description: "Message type to describe"},
		},
	},
}

// Catalog returns the tool specs in a stable order.
func Catalog() []Spec {
	out := make([]Spec, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds a tool spec by name.
func Lookup(name string) (Spec, bool) {
	for _, s := range catalog {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}
