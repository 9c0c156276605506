package pipefy

import (
	"bytes"
	"encoding/json"
)

// FlexID is an identifier that the upstream round-trips as either a JSON
// number or a JSON string depending on the query. It always decodes to a
// string so id comparisons never depend on the wire representation.
type FlexID string

// UnmarshalJSON accepts a string, a number or null.
func (id *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = FlexID(n.String())
	return nil
}

func (id FlexID) String() string { return string(id) }

// ConnectedItem is a reference stored in a relational/lookup field.
type ConnectedItem struct {
	ID    FlexID `json:"id"`
	Title string `json:"title"`
}

// CardField is one field entry on a card. FieldID may be empty: the upstream
// omits the field definition when the card has no value for it yet, in which
// case the id has to be resolved from the phase schema.
type CardField struct {
	FieldID        string          `json:"field_id"`
	Name           string          `json:"name"`
	Value          *string         `json:"value"`
	ConnectedItems []ConnectedItem `json:"connected_items,omitempty"`
}

// Card is a unit of work flowing through a pipe. PipeName is filled in
// during multi-pipe searches so the operator can tell results apart; it is
// not part of the wire payload.
type Card struct {
	ID        FlexID      `json:"id"`
	Title     string      `json:"title"`
	PhaseID   string      `json:"phase_id"`
	PhaseName string      `json:"phase_name"`
	Fields    []CardField `json:"fields"`
	PipeName  string      `json:"pipe_name,omitempty"`
}

// PhaseField is one entry of a phase's field schema.
type PhaseField struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Phase is a step within a pipe. Done phases are terminal and excluded from
// search and reassignment.
type Phase struct {
	ID     FlexID       `json:"id"`
	Name   string       `json:"name"`
	Done   bool         `json:"done"`
	Fields []PhaseField `json:"fields,omitempty"`
}

// Pipe is a top-level workflow container.
type Pipe struct {
	ID              FlexID       `json:"id"`
	Name            string       `json:"name"`
	Phases          []Phase      `json:"phases"`
	StartFormFields []PhaseField `json:"start_form_fields,omitempty"`
}

// Member is an organization user, used both as search filter subject and as
// reassignment destination.
type Member struct {
	ID       FlexID `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
}

// FieldUpdate is one queued card-field rewrite.
type FieldUpdate struct {
	CardID  string
	FieldID string
	Values  []string
}

// InviteInput asks the batch mutation to grant a member access to a pipe
// before the field updates run.
type InviteInput struct {
	PipeID string
	Email  string
}

// UpdateOutcome aggregates one batched mutation's per-card results.
type UpdateOutcome struct {
	Succeeded     []string
	Failed        map[string]string
	AccessGranted bool
}
