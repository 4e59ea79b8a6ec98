package tools

import "github.com/set-night/skylog/internal/telemetry"

type MessageTypeInfo struct {
	Name   string   `json:"name"`
	Count  int      `json:"count"`
	Fields []string `json:"fields"`
}

type FieldInfo struct {
	Name        string `json:"name"`
	Format      string `json:"format"`
	Unit        string `json:"unit,omitempty"`
	Description string `json:"description,omitempty"`
}

type MessageDescription struct {
	Name        string      `json:"name"`
	Type        uint8       `json:"type"`
	Count       int         `json:"count"`
	Description string      `json:"description,omitempty"`
	Fields      []FieldInfo `json:"fields"`
}

func (d *Dispatcher) describeMessage(ds *telemetry.Dataset, args Args) (any, error) {
	typ, ok := args.String("message_type")
	if !ok || typ == "" {
		types := []MessageTypeInfo{}
		for _, name := range ds.MessageTypes() {
			info := MessageTypeInfo{Name: name, Count: len(ds.Series(name))}
			if s, ok := ds.Schema(name); ok {
				info.Fields = s.Fields
			}
			types = append(types, info)
		}
		return map[string]any{"message_types": types}, nil
	}

	name, err := ds.ResolveType(typ)
	if err != nil {
		return nil, err
	}
	s, _ := ds.Schema(name)
	var doc MessageDoc
	if d.docs != nil {
		doc, _ = d.docs.Lookup(name)
	}
	out := MessageDescription{
		Name:        name,
		Type:        s.Type,
		Count:       len(ds.Series(name)),
		Description: doc.Description,
		Fields:      make([]FieldInfo, len(s.Fields)),
	}
	for i, f := range s.Fields {
		out.Fields[i] = FieldInfo{
			Name:        f,
			Format:      string(s.Format[i]),
			Unit:        s.Unit(i),
			Description: doc.Fields[f],
		}
	}
	return out, nil
}
