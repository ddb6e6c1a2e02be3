package tools

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Kind is the closed set of schema variants a tool argument can take.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindEnum    Kind = "enum"
)

// Schema describes the arguments a tool accepts. It is built recursively
// from the variants above and rendered to JSON Schema for the model
// bindings and for argument validation.
type Schema struct {
	Type        Kind               `json:"type" yaml:"type" bson:"type"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty" bson:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty" bson:"properties,omitempty"`
	Required    []string           `json:"required,omitempty" yaml:"required,omitempty" bson:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty" yaml:"items,omitempty" bson:"items,omitempty"`
	Enum        []string           `json:"enum,omitempty" yaml:"enum,omitempty" bson:"enum,omitempty"`
}

func String(desc string) *Schema  { return &Schema{Type: KindString, Description: desc} }
func Number(desc string) *Schema  { return &Schema{Type: KindNumber, Description: desc} }
func Integer(desc string) *Schema { return &Schema{Type: KindInteger, Description: desc} }
func Boolean(desc string) *Schema { return &Schema{Type: KindBoolean, Description: desc} }

// Enum is a string restricted to values.
func Enum(desc string, values ...string) *Schema {
	return &Schema{Type: KindEnum, Description: desc, Enum: values}
}

// Array is a list of items.
func Array(desc string, items *Schema) *Schema {
	return &Schema{Type: KindArray, Description: desc, Items: items}
}

// Object has named properties; required lists the mandatory ones.
func Object(desc string, props map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: KindObject, Description: desc, Properties: props, Required: required}
}

// Check verifies the schema is well formed.
func (s *Schema) Check() error {
	return s.check("$")
}

func (s *Schema) check(path string) error {
	if s == nil {
		return fmt.Errorf("%s: nil schema", path)
	}
	switch s.Type {
	case KindString, KindNumber, KindInteger, KindBoolean:
		return nil
	case KindEnum:
		if len(s.Enum) == 0 {
			return fmt.Errorf("%s: enum needs at least one value", path)
		}
		return nil
	case KindArray:
		if s.Items == nil {
			return fmt.Errorf("%s: array needs an items schema", path)
		}
		return s.Items.check(path + "[]")
	case KindObject:
		for _, name := range s.Required {
			if _, ok := s.Properties[name]; !ok {
				return fmt.Errorf("%s: required property %q is not declared", path, name)
			}
		}
		for name, prop := range s.Properties {
			if err := prop.check(path + "." + name); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%s: unknown schema type %q", path, s.Type)
	}
}

// JSONSchema renders the schema as a JSON Schema document.
func (s *Schema) JSONSchema() map[string]interface{} {
	out := map[string]interface{}{}
	if s.Description != "" {
		out["description"] = s.Description
	}
	switch s.Type {
	case KindEnum:
		out["type"] = "string"
		values := make([]interface{}, len(s.Enum))
		for i, v := range s.Enum {
			values[i] = v
		}
		out["enum"] = values
	case KindArray:
		out["type"] = "array"
		if s.Items != nil {
			out["items"] = s.Items.JSONSchema()
		}
	case KindObject:
		out["type"] = "object"
		props := make(map[string]interface{}, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = p.JSONSchema()
		}
		out["properties"] = props
		if len(s.Required) > 0 {
			req := make([]interface{}, len(s.Required))
			for i, r := range s.Required {
				req[i] = r
			}
			out["required"] = req
		}
	default:
		out["type"] = string(s.Type)
	}
	return out
}

// RequiredNames returns the required property names in sorted order.
func (s *Schema) RequiredNames() []string {
	out := append([]string(nil), s.Required...)
	sort.Strings(out)
	return out
}

// compile builds a validator for the rendered JSON Schema.
func (s *Schema) compile(name string) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(s.JSONSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	url := name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// SchemaFromJSON converts a JSON Schema document into a Schema. Only the
// subset expressible by the variants above is accepted; anything else is an
// error. A string "type" with an "enum" list becomes KindEnum.
func SchemaFromJSON(doc interface{}) (*Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("schema must be a JSON object: %w", err)
	}
	return schemaFromMap("$", m)
}

func schemaFromMap(path string, m map[string]interface{}) (*Schema, error) {
	s := &Schema{}
	s.Description, _ = m["description"].(string)

	typ, _ := m["type"].(string)
	if typ == "" {
		if _, ok := m["properties"]; ok {
			typ = string(KindObject)
		}
	}

	switch Kind(typ) {
	case KindString:
		s.Type = KindString
		if values, ok := m["enum"].([]interface{}); ok {
			s.Type = KindEnum
			for _, v := range values {
				str, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("%s: enum values must be strings", path)
				}
				s.Enum = append(s.Enum, str)
			}
		}
	case KindNumber, KindInteger, KindBoolean:
		s.Type = Kind(typ)
	case KindArray:
		s.Type = KindArray
		items, ok := m["items"].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%s: array without items", path)
		}
		item, err := schemaFromMap(path+"[]", items)
		if err != nil {
			return nil, err
		}
		s.Items = item
	case KindObject:
		s.Type = KindObject
		props, _ := m["properties"].(map[string]interface{})
		if len(props) > 0 {
			s.Properties = make(map[string]*Schema, len(props))
		}
		for name, p := range props {
			pm, ok := p.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%s.%s: property schema must be an object", path, name)
			}
			child, err := schemaFromMap(path+"."+name, pm)
			if err != nil {
				return nil, err
			}
			s.Properties[name] = child
		}
		if req, ok := m["required"].([]interface{}); ok {
			for _, r := range req {
				if name, ok := r.(string); ok {
					s.Required = append(s.Required, name)
				}
			}
		}
	default:
		return nil, fmt.Errorf("%s: unsupported schema type %q", path, typ)
	}
	return s, s.check(path)
}
