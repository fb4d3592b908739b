package engine

import (
	"fmt"
	"maps"
	"strings"
)

const (
	// ExtensionNameKey and ExtensionMetadataKey annotate fields with a
	// logical extension type, following the Arrow extension type convention.
	ExtensionNameKey     = "ARROW:extension:name"
	ExtensionMetadataKey = "ARROW:extension:metadata"
)

type Field struct {
	Name     string
	Type     DataType
	Nullable bool
	Metadata map[string]string
}

func NewField(name string, t DataType, nullable bool) Field {
	return Field{Name: name, Type: t, Nullable: nullable}
}

// WithMetadata returns a copy of f with key set to value.
func (f Field) WithMetadata(key, value string) Field {
	md := make(map[string]string, len(f.Metadata)+1)
	maps.Copy(md, f.Metadata)
	md[key] = value
	f.Metadata = md
	return f
}

// ExtensionName returns the extension type name of the field, if any.
func (f Field) ExtensionName() string {
	return f.Metadata[ExtensionNameKey]
}

func (f Field) Equal(o Field) bool {
	return f.Name == o.Name && f.Type == o.Type && f.Nullable == o.Nullable && maps.Equal(f.Metadata, o.Metadata)
}

func (f Field) String() string {
	s := f.Name + ": " + f.Type.String()
	if ext := f.ExtensionName(); ext != "" {
		s += "<" + ext + ">"
	}
	if f.Nullable {
		s += " (nullable)"
	}
	return s
}

// Schema is an immutable ordered list of fields plus schema level metadata.
type Schema struct {
	fields   []Field
	metadata map[string]string
}

// EmptySchema has no fields. Expressions evaluated against it must not
// reference any column.
var EmptySchema = NewSchema(nil, nil)

func NewSchema(fields []Field, metadata map[string]string) *Schema {
	return &Schema{
		fields:   append([]Field(nil), fields...),
		metadata: maps.Clone(metadata),
	}
}

func (s *Schema) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

func (s *Schema) Field(i int) Field {
	return s.fields[i]
}

func (s *Schema) NumFields() int {
	return len(s.fields)
}

// IndexOf returns the index of the first field named name, or -1.
func (s *Schema) IndexOf(name string) int {
	for i, f := range s.fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// FieldByName returns the first field named name.
func (s *Schema) FieldByName(name string) (Field, bool) {
	i := s.IndexOf(name)
	if i < 0 {
		return Field{}, false
	}
	return s.fields[i], true
}

// Metadata returns the value stored under key in the schema metadata.
func (s *Schema) Metadata(key string) (string, bool) {
	v, ok := s.metadata[key]
	return v, ok
}

func (s *Schema) MetadataMap() map[string]string {
	return maps.Clone(s.metadata)
}

// WithFields returns a schema with the same metadata and new fields.
func (s *Schema) WithFields(fields []Field) *Schema {
	return NewSchema(fields, s.metadata)
}

// Project returns the schema made of the given field indices, in order.
func (s *Schema) Project(indices []int) (*Schema, error) {
	fields := make([]Field, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(s.fields) {
			return nil, fmt.Errorf("project index %d out of range for schema with %d fields", i, len(s.fields))
		}
		fields = append(fields, s.fields[i])
	}
	return NewSchema(fields, s.metadata), nil
}

// Equal compares fields only. Schema metadata is ignored.
func (s *Schema) Equal(o *Schema) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil || len(s.fields) != len(o.fields) {
		return false
	}
	for i := range s.fields {
		if !s.fields[i].Equal(o.fields[i]) {
			return false
		}
	}
	return true
}

func (s *Schema) String() string {
	parts := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		parts = append(parts, f.String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
