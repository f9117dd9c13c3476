package tools

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

func schemaPropertyNames(s *jsonschema.Schema) []string {
	if s == nil || s.Properties == nil {
		return nil
	}
	var names []string
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

func schemaPropertyType(s *jsonschema.Schema, name string) string {
	if s == nil || s.Properties == nil {
		return ""
	}
	prop, ok := s.Properties.Get(name)
	if !ok || prop == nil {
		return ""
	}
	return prop.Type
}

// CoerceArguments converts textual arguments into JSON values following the property types of
// the schema. Values that do not parse as the declared type are kept as strings so that
// validation reports them.
func CoerceArguments(s *jsonschema.Schema, args Arguments) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for _, arg := range args {
		out[arg.Name] = coerceValue(schemaPropertyType(s, arg.Name), arg.Value)
	}
	return out
}

func coerceValue(typ string, value string) interface{} {
	v := strings.TrimSpace(value)
	switch typ {
	case "integer":
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	case "number":
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	case "boolean":
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	case "array", "object":
		var decoded interface{}
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			return decoded
		}
	}
	return value
}

// ValidateArguments checks coerced values against the schema.
func ValidateArguments(s *jsonschema.Schema, values map[string]interface{}) error {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshal schema")
	}
	var schemaDoc map[string]interface{}
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		return errors.Wrap(err, "decode schema")
	}
	// the reflector stamps draft 2020-12 identifiers that the validator does not know about
	delete(schemaDoc, "$schema")
	delete(schemaDoc, "$id")

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schemaDoc),
		gojsonschema.NewGoLoader(values),
	)
	if err != nil {
		return errors.Wrap(err, "validate arguments")
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.New(strings.Join(msgs, "; "))
}
