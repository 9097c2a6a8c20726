package entity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrFieldValidation is returned when run field values do not match the template schema
var ErrFieldValidation = errors.New("field validation failed")

// DateLayout is the wire format of date field values
const DateLayout = "2006-01-02"

// FieldType is the declared type of a run template field
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldDate    FieldType = "date"
)

// IsValid returns true if the field type is known
func (t FieldType) IsValid() bool {
	switch t {
	case FieldString, FieldNumber, FieldBoolean, FieldDate:
		return true
	}
	return false
}

// FieldValue is a typed run field value; only the member matching Type is meaningful
type FieldValue struct {
	Type   FieldType
	Text   string
	Number decimal.Decimal
	Bool   bool
	Date   time.Time
}

// StringValue wraps a string field value
func StringValue(s string) FieldValue { return FieldValue{Type: FieldString, Text: s} }

// NumberValue wraps a numeric field value
func NumberValue(d decimal.Decimal) FieldValue { return FieldValue{Type: FieldNumber, Number: d} }

// BoolValue wraps a boolean field value
func BoolValue(b bool) FieldValue { return FieldValue{Type: FieldBoolean, Bool: b} }

// DateValue wraps the calendar day of t, stored as midnight UTC
func DateValue(t time.Time) FieldValue {
	y, m, d := t.Date()
	return FieldValue{Type: FieldDate, Date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

type fieldValueJSON struct {
	Type  FieldType       `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes as {"type": ..., "value": ...}; numbers are quoted decimals
func (v FieldValue) MarshalJSON() ([]byte, error) {
	var value any
	switch v.Type {
	case FieldString:
		value = v.Text
	case FieldNumber:
		value = v.Number.String()
	case FieldBoolean:
		value = v.Bool
	case FieldDate:
		value = v.Date.Format(DateLayout)
	default:
		return nil, fmt.Errorf("cannot encode field of type %q", v.Type)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fieldValueJSON{Type: v.Type, Value: raw})
}

// UnmarshalJSON decodes the tagged form written by MarshalJSON
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var tagged fieldValueJSON
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	parsed, err := ParseFieldValue(tagged.Type, tagged.Value)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseFieldValue converts a raw JSON value into a FieldValue of the declared type.
// Numbers may arrive as JSON numbers or numeric strings.
func ParseFieldValue(t FieldType, raw json.RawMessage) (FieldValue, error) {
	raw = bytes.TrimSpace(raw)
	switch t {
	case FieldString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return FieldValue{}, fmt.Errorf("%w: expected string", ErrFieldValidation)
		}
		return StringValue(s), nil
	case FieldNumber:
		text := string(raw)
		if len(raw) > 0 && raw[0] == '"' {
			if err := json.Unmarshal(raw, &text); err != nil {
				return FieldValue{}, fmt.Errorf("%w: expected number", ErrFieldValidation)
			}
		}
		d, err := decimal.NewFromString(text)
		if err != nil {
			return FieldValue{}, fmt.Errorf("%w: expected number, got %s", ErrFieldValidation, raw)
		}
		return NumberValue(d), nil
	case FieldBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return FieldValue{}, fmt.Errorf("%w: expected boolean", ErrFieldValidation)
		}
		return BoolValue(b), nil
	case FieldDate:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return FieldValue{}, fmt.Errorf("%w: expected date string", ErrFieldValidation)
		}
		d, err := time.Parse(DateLayout, s)
		if err != nil {
			return FieldValue{}, fmt.Errorf("%w: expected date as %s", ErrFieldValidation, DateLayout)
		}
		return DateValue(d), nil
	}
	return FieldValue{}, fmt.Errorf("%w: unknown field type %q", ErrFieldValidation, t)
}

// FieldDef declares one input of a run template.
// Alias, when set, is the formula variable name the field feeds.
type FieldDef struct {
	Key      string    `json:"key"`
	Label    string    `json:"label,omitempty"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	Alias    string    `json:"alias,omitempty"`
}

// RunTemplate is the schema and billing formula shared by runs of a process
type RunTemplate struct {
	ID        string     `json:"id"`
	ProcessID string     `json:"process_id"`
	Name      string     `json:"name"`
	Formula   string     `json:"formula"`
	Fields    []FieldDef `json:"fields"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Field returns the definition for key
func (t *RunTemplate) Field(key string) (FieldDef, bool) {
	for _, f := range t.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return FieldDef{}, false
}

// Aliases maps field key to formula variable name for fields that declare one
func (t *RunTemplate) Aliases() map[string]string {
	aliases := make(map[string]string)
	for _, f := range t.Fields {
		if f.Alias != "" {
			aliases[f.Key] = f.Alias
		}
	}
	return aliases
}

// ValidateDefinition checks the template schema itself
func (t *RunTemplate) ValidateDefinition() error {
	if t.ID == "" || t.Name == "" {
		return fmt.Errorf("%w: template id and name are required", ErrFieldValidation)
	}
	seen := make(map[string]bool, len(t.Fields))
	aliasOf := make(map[string]string, len(t.Fields))
	for _, f := range t.Fields {
		if f.Key == "" {
			return fmt.Errorf("%w: field key is required", ErrFieldValidation)
		}
		if seen[f.Key] {
			return fmt.Errorf("%w: duplicate field %q", ErrFieldValidation, f.Key)
		}
		seen[f.Key] = true
		if !f.Type.IsValid() {
			return fmt.Errorf("%w: field %q has unknown type %q", ErrFieldValidation, f.Key, f.Type)
		}
		if f.Alias == "" {
			continue
		}
		if other, dup := aliasOf[f.Alias]; dup {
			return fmt.Errorf("%w: fields %q and %q share alias %q", ErrFieldValidation, other, f.Key, f.Alias)
		}
		aliasOf[f.Alias] = f.Key
	}
	// an alias may not shadow another field's key
	for alias, key := range aliasOf {
		if alias != key && seen[alias] {
			return fmt.Errorf("%w: alias %q of field %q is another field's key", ErrFieldValidation, alias, key)
		}
	}
	return nil
}

// ParseValues validates raw submitted values against the schema
func (t *RunTemplate) ParseValues(raw map[string]json.RawMessage) (map[string]FieldValue, error) {
	values := make(map[string]FieldValue, len(raw))
	for key, r := range raw {
		def, ok := t.Field(key)
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q for template %s", ErrFieldValidation, key, t.ID)
		}
		v, err := ParseFieldValue(def.Type, r)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		values[key] = v
	}
	return values, nil
}

// CheckRequired returns an error naming the first required field missing from values
func (t *RunTemplate) CheckRequired(values map[string]FieldValue) error {
	for _, f := range t.Fields {
		if !f.Required {
			continue
		}
		if _, ok := values[f.Key]; !ok {
			return fmt.Errorf("%w: required field %q is missing", ErrFieldValidation, f.Key)
		}
	}
	return nil
}

// NumericInputs extracts the number-typed fields of a run
func NumericInputs(fields map[string]FieldValue) map[string]decimal.Decimal {
	inputs := make(map[string]decimal.Decimal)
	for k, v := range fields {
		if v.Type == FieldNumber {
			inputs[k] = v.Number
		}
	}
	return inputs
}
