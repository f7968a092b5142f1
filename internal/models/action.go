package models

import "encoding/json"

// Action is a client-side behaviour a recipe can trigger. ArgumentsSchema
// is a JSON Schema that recipe arguments must satisfy.
type Action struct {
	ID                 int64           `json:"id"`
	Name               string          `json:"name"`
	ImplementationHash string          `json:"implementation_hash,omitempty"`
	ArgumentsSchema    json.RawMessage `json:"arguments_schema"`
	Signature          *Signature      `json:"signature,omitempty"`
}

// ActionPayload is the signed representation of an action.
type ActionPayload struct {
	Name            string          `json:"name"`
	ArgumentsSchema json.RawMessage `json:"arguments_schema"`
}

// Payload returns the content covered by the action's signature.
func (a *Action) Payload() ActionPayload {
	schema := a.ArgumentsSchema
	if len(schema) == 0 {
		schema = json.RawMessage("{}")
	}
	return ActionPayload{Name: a.Name, ArgumentsSchema: schema}
}
