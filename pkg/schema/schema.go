// Package schema validates decoded JSON payloads against a declarative
// field contract and reports every violation at once, keyed by field name.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
)

// Violation messages. They are part of the API response body.
const (
	MsgMissing      = "Missing data for required field."
	MsgNull         = "Field may not be null."
	MsgNotString    = "Not a valid string."
	MsgNotMapping   = "Not a valid mapping type."
	MsgUnknown      = "Unknown field."
	MsgInvalidInput = "Invalid input type."
)

// SchemaKey holds violations that concern the payload as a whole.
const SchemaKey = "_schema"

// Kind is the JSON shape a field must have.
type Kind int

const (
	String Kind = iota
	Mapping
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Mapping:
		return "mapping"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Field declares one entry of a contract.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
}

// Contract is an ordered set of fields. Keys outside the contract are violations.
type Contract struct {
	fields []Field
	byName map[string]Field
}

// NewContract builds a contract from fields. Duplicate names panic since
// contracts are declared at package init.
func NewContract(fields ...Field) *Contract {
	c := &Contract{
		fields: slices.Clone(fields),
		byName: make(map[string]Field, len(fields)),
	}
	for _, f := range fields {
		if _, dup := c.byName[f.Name]; dup {
			panic("schema: duplicate field " + f.Name)
		}
		c.byName[f.Name] = f
	}
	return c
}

// Has reports whether name is declared by the contract.
func (c *Contract) Has(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// Validate checks payload and returns nil when it satisfies the contract.
// With partial set, required fields may be absent but present fields are
// still type checked.
func (c *Contract) Validate(payload map[string]any, partial bool) Violations {
	var v Violations
	for _, f := range c.fields {
		val, present := payload[f.Name]
		if !present {
			if f.Required && !partial {
				v.Add(f.Name, MsgMissing)
			}
			continue
		}
		if msg := checkKind(f.Kind, val); msg != "" {
			v.Add(f.Name, msg)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(payload)) {
		if !c.Has(name) {
			v.Add(name, MsgUnknown)
		}
	}
	return v
}

func checkKind(k Kind, val any) string {
	if val == nil {
		return MsgNull
	}
	switch k {
	case String:
		if _, ok := val.(string); !ok {
			return MsgNotString
		}
	case Mapping:
		if _, ok := val.(map[string]any); !ok {
			return MsgNotMapping
		}
	}
	return ""
}

// Violations maps a field name to every reason it failed validation.
type Violations map[string][]string

// InvalidInput is the violation set for a payload that isn't a JSON object.
func InvalidInput() Violations {
	return Violations{SchemaKey: {MsgInvalidInput}}
}

// Add records msg against field, allocating the map on first use.
func (v *Violations) Add(field, msg string) {
	if *v == nil {
		*v = make(Violations)
	}
	(*v)[field] = append((*v)[field], msg)
}

func (v Violations) Error() string {
	parts := make([]string, 0, len(v))
	for _, field := range slices.Sorted(maps.Keys(v)) {
		parts = append(parts, field+": "+strings.Join(v[field], " "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Decode reads a single JSON object from r. Numbers are kept as json.Number
// so they are echoed back unchanged. Anything other than exactly one JSON
// object is reported as InvalidInput.
func Decode(r io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, InvalidInput()
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, InvalidInput()
	}

	payload, ok := raw.(map[string]any)
	if !ok {
		return nil, InvalidInput()
	}
	return payload, nil
}
