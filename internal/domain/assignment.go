package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RunIDKey is the reserved parameter that disambiguates concurrent runs. It is never
// rendered as a command-line flag.
const RunIDKey = "run_id"

// Param is one named value of an assignment.
type Param struct {
	Name  string
	Value Value
}

// Assignment is an ordered parameter assignment proposed for one trial.
// Order follows the space declaration and is stable within a search.
type Assignment []Param

// Get returns the value of the named parameter.
func (a Assignment) Get(name string) (Value, bool) {
	for _, p := range a {
		if p.Name == name {
			return p.Value, true
		}
	}
	return Value{}, false
}

// RunID returns the run_id value, if present.
func (a Assignment) RunID() (Value, bool) { return a.Get(RunIDKey) }

// Names returns parameter names in order.
func (a Assignment) Names() []string {
	names := make([]string, len(a))
	for i, p := range a {
		names[i] = p.Name
	}
	return names
}

// MarshalJSON encodes the assignment as a JSON object preserving parameter order.
func (a Assignment) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Name)
		if err != nil {
			return nil, err
		}
		val, err := p.Value.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", p.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping key order.
func (a *Assignment) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("assignment: expected object")
	}

	out := Assignment{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("assignment: expected key")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("assignment %s: %w", name, err)
		}
		var v Value
		if err := v.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("assignment %s: %w", name, err)
		}
		out = append(out, Param{Name: name, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*a = out
	return nil
}
