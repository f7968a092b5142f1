// Package validation collects field-level validation failures and validates
// action arguments and identicon seeds.
package validation

import (
	"encoding/json"
	"sort"
	"strings"
)

// Error maps dotted field paths (for example "filter_object.0.channels") to
// the messages reported for that field.
type Error struct {
	fields map[string][]string
}

// NewError returns an empty Error.
func NewError() *Error {
	return &Error{fields: make(map[string][]string)}
}

// FieldError is a shorthand for an Error with a single message.
func FieldError(path, message string) *Error {
	e := NewError()
	e.Add(path, message)
	return e
}

// Add records message against path.
func (e *Error) Add(path, message string) {
	if e.fields == nil {
		e.fields = make(map[string][]string)
	}
	e.fields[path] = append(e.fields[path], message)
}

// Merge copies every field of other into e under prefix.
func (e *Error) Merge(prefix string, other *Error) {
	if other == nil {
		return
	}
	for path, msgs := range other.fields {
		full := joinPath(prefix, path)
		for _, m := range msgs {
			e.Add(full, m)
		}
	}
}

// Empty reports whether no messages have been recorded.
func (e *Error) Empty() bool {
	return e == nil || len(e.fields) == 0
}

// Err returns e as an error, or nil when empty.
func (e *Error) Err() error {
	if e.Empty() {
		return nil
	}
	return e
}

// Fields returns a copy of the flat path to messages map.
func (e *Error) Fields() map[string][]string {
	out := make(map[string][]string, len(e.fields))
	for k, v := range e.fields {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Messages returns the messages recorded for path.
func (e *Error) Messages(path string) []string {
	if e == nil {
		return nil
	}
	return e.fields[path]
}

func (e *Error) Error() string {
	paths := make([]string, 0, len(e.fields))
	for p := range e.fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	parts := make([]string, 0, len(paths))
	for _, p := range paths {
		parts = append(parts, p+": "+strings.Join(e.fields[p], " "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Nested expands the dotted paths into nested maps. Leaves are message
// lists, so "a.0.b" becomes {"a": {"0": {"b": [...]}}}.
func (e *Error) Nested() map[string]any {
	root := make(map[string]any)
	for path, msgs := range e.fields {
		node := root
		segments := strings.Split(path, ".")
		for i, seg := range segments {
			if i == len(segments)-1 {
				if existing, ok := node[seg].(map[string]any); ok {
					existing["non_field_errors"] = msgs
				} else {
					node[seg] = msgs
				}
				break
			}
			next, ok := node[seg].(map[string]any)
			if !ok {
				next = make(map[string]any)
				if leaf, isLeaf := node[seg].([]string); isLeaf {
					next["non_field_errors"] = leaf
				}
				node[seg] = next
			}
			node = next
		}
	}
	return root
}

// MarshalJSON renders the nested form.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Nested())
}

func joinPath(prefix, path string) string {
	switch {
	case prefix == "":
		return path
	case path == "":
		return prefix
	default:
		return prefix + "." + path
	}
}
