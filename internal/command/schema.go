// Package command defines the declarative wire schemas for the Homeworks
// command families and the engine that executes command instances against
// a live session.
package command

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBadTemplate   = errors.New("command: bad schema template")
	ErrUnknownAction = errors.New("command: unknown action")
)

// Processor converts the unmatched payload tail of a response into the
// command's result. It receives the lone element directly when exactly one
// remains, otherwise the whole []any tail.
type Processor func(data any) (any, error)

// Definition describes one action of a command family.
type Definition struct {
	Action     int
	Processor  Processor
	NoResponse bool
	IsGet      bool
	IsSet      bool
}

// Get builds a query-only definition.
func Get(action int, p Processor) Definition {
	return Definition{Action: action, Processor: p, IsGet: true}
}

// Set builds an execute-only definition.
func Set(action int, p Processor) Definition {
	return Definition{Action: action, Processor: p, IsSet: true}
}

// GetSet builds a definition valid for both query and execute.
func GetSet(action int, p Processor) Definition {
	return Definition{Action: action, Processor: p, IsGet: true, IsSet: true}
}

// noResponse marks the action as never acknowledged by the device.
func (d Definition) noResponse() Definition {
	d.NoResponse = true
	return d
}

// Field is one named position in a schema template. A trailing `...` in
// the template marks the field variadic: matching stops there and the
// remaining response tail is captured as payload.
type Field struct {
	Name     string
	Variadic bool
}

// Schema is the immutable wire-format definition of one command family:
// the command name, the ordered field list and the action table.
type Schema struct {
	name   string
	fields []Field
	defs   map[int]Definition
}

// NewSchema parses a template of the form "NAME,{f1},{f2...}" and binds
// the family's action definitions to it.
func NewSchema(template string, defs []Definition) (*Schema, error) {
	parts := strings.Split(strings.TrimSpace(template), ",")
	if len(parts) == 0 || parts[0] == "" {
		return nil, fmt.Errorf("%w: missing command name in %q", ErrBadTemplate, template)
	}

	s := &Schema{
		name: parts[0],
		defs: make(map[int]Definition, len(defs)),
	}
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(part, "{") || !strings.HasSuffix(part, "}") {
			return nil, fmt.Errorf("%w: field %q in %q", ErrBadTemplate, part, template)
		}
		name := part[1 : len(part)-1]
		field := Field{Name: name}
		if strings.HasSuffix(name, "...") {
			field.Name = strings.TrimSuffix(name, "...")
			field.Variadic = true
		}
		s.fields = append(s.fields, field)
	}
	for _, def := range defs {
		s.defs[def.Action] = def
	}
	return s, nil
}

// MustSchema is NewSchema for package-level schema literals.
func MustSchema(template string, defs []Definition) *Schema {
	s, err := NewSchema(template, defs)
	if err != nil {
		panic(err)
	}
	return s
}

// CommandName is the literal text before the first comma of the template.
func (s *Schema) CommandName() string { return s.name }

// Fields returns the ordered field list.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Definition looks up the action table.
func (s *Schema) Definition(action int) (Definition, bool) {
	def, ok := s.defs[action]
	return def, ok
}
