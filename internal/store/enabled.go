package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kilupskalvis/normandy/internal/models"
)

// enabledStateKey builds the key for an enabled state: "{revision_id}|{id:020d}".
func enabledStateKey(revisionID string, id int64) []byte {
	return []byte(fmt.Sprintf("%s|%020d", revisionID, id))
}

// AddEnabledState appends a state to the history of its revision.
func (t *Tx) AddEnabledState(state *models.EnabledState) error {
	id, err := t.nextID(bucketEnabledStates)
	if err != nil {
		return err
	}
	state.ID = id
	return t.put(bucketEnabledStates, enabledStateKey(state.RevisionID, id), state)
}

// ListEnabledStates returns the history of a revision, oldest first.
func (t *Tx) ListEnabledStates(revisionID string) ([]*models.EnabledState, error) {
	b, err := t.bucket(bucketEnabledStates)
	if err != nil {
		return nil, err
	}
	prefix := []byte(revisionID + "|")
	var states []*models.EnabledState
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var s models.EnabledState
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, fmt.Errorf("unmarshal enabled state: %w", err)
		}
		states = append(states, &s)
	}
	return states, nil
}

// CurrentEnabledState returns the newest state of a revision, or nil if the
// revision has never been enabled or disabled.
func (t *Tx) CurrentEnabledState(revisionID string) (*models.EnabledState, error) {
	if revisionID == "" {
		return nil, nil
	}
	states, err := t.ListEnabledStates(revisionID)
	if err != nil || len(states) == 0 {
		return nil, err
	}
	return states[len(states)-1], nil
}

// CurrentEnabledState returns the newest state of a revision in its own
// transaction.
func (s *Store) CurrentEnabledState(revisionID string) (*models.EnabledState, error) {
	var state *models.EnabledState
	err := s.View(func(tx *Tx) error {
		var err error
		state, err = tx.CurrentEnabledState(revisionID)
		return err
	})
	return state, err
}
