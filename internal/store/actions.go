package store

import (
	"encoding/json"
	"fmt"

	"github.com/kilupskalvis/normandy/internal/models"
)

// CreateAction stores a new action. Names are unique; a duplicate returns
// ErrConflict.
func (t *Tx) CreateAction(a *models.Action) error {
	names, err := t.bucket(bucketActionNames)
	if err != nil {
		return err
	}
	if names.Get([]byte(a.Name)) != nil {
		return fmt.Errorf("action %q: %w", a.Name, ErrConflict)
	}
	id, err := t.nextID(bucketActions)
	if err != nil {
		return err
	}
	a.ID = id
	if err := t.put(bucketActions, itob(id), a); err != nil {
		return err
	}
	return names.Put([]byte(a.Name), itob(id))
}

// GetAction retrieves an action by ID. Returns ErrNotFound if missing.
func (t *Tx) GetAction(id int64) (*models.Action, error) {
	a := &models.Action{}
	if err := t.get(bucketActions, itob(id), a); err != nil {
		return nil, err
	}
	return a, nil
}

// GetActionByName retrieves an action by name. Returns ErrNotFound if missing.
func (t *Tx) GetActionByName(name string) (*models.Action, error) {
	names, err := t.bucket(bucketActionNames)
	if err != nil {
		return nil, err
	}
	v := names.Get([]byte(name))
	if v == nil {
		return nil, ErrNotFound
	}
	return t.GetAction(btoi(v))
}

// SaveAction overwrites an existing action. The name may not change.
func (t *Tx) SaveAction(a *models.Action) error {
	old, err := t.GetAction(a.ID)
	if err != nil {
		return err
	}
	if old.Name != a.Name {
		return fmt.Errorf("rename action %q: %w", old.Name, ErrConflict)
	}
	return t.put(bucketActions, itob(a.ID), a)
}

// ListActions returns all actions ordered by ID.
func (t *Tx) ListActions() ([]*models.Action, error) {
	b, err := t.bucket(bucketActions)
	if err != nil {
		return nil, err
	}
	var actions []*models.Action
	err = b.ForEach(func(_, v []byte) error {
		var a models.Action
		if err := json.Unmarshal(v, &a); err != nil {
			return fmt.Errorf("unmarshal action: %w", err)
		}
		actions = append(actions, &a)
		return nil
	})
	return actions, err
}

// GetActionByName retrieves an action by name in its own transaction.
func (s *Store) GetActionByName(name string) (*models.Action, error) {
	var a *models.Action
	err := s.View(func(tx *Tx) error {
		var err error
		a, err = tx.GetActionByName(name)
		return err
	})
	return a, err
}

// ListActions returns all actions ordered by ID.
func (s *Store) ListActions() ([]*models.Action, error) {
	var actions []*models.Action
	err := s.View(func(tx *Tx) error {
		var err error
		actions, err = tx.ListActions()
		return err
	})
	return actions, err
}
