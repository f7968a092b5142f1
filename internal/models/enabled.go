package models

import "time"

// EnabledState is one entry in the enable/disable history of a revision.
// CarryoverFrom names the revision whose enabled state was carried forward
// when this revision was approved.
type EnabledState struct {
	ID            int64     `json:"id"`
	RevisionID    string    `json:"revision_id"`
	Created       time.Time `json:"created"`
	Creator       string    `json:"creator"`
	Enabled       bool      `json:"enabled"`
	CarryoverFrom string    `json:"carryover_from,omitempty"`
}

// IsEnabled reports whether s records an enabled revision. Nil is disabled.
func (s *EnabledState) IsEnabled() bool {
	return s != nil && s.Enabled
}
