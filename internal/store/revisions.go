package store

import (
	"fmt"

	"github.com/kilupskalvis/normandy/internal/models"
)

// CreateRevision stores a new revision. Revisions are immutable, so storing
// an ID that already exists returns ErrConflict.
func (t *Tx) CreateRevision(rev *models.RecipeRevision) error {
	b, err := t.bucket(bucketRevisions)
	if err != nil {
		return err
	}
	if b.Get([]byte(rev.ID)) != nil {
		return fmt.Errorf("revision %s: %w", rev.ID, ErrConflict)
	}
	return t.put(bucketRevisions, []byte(rev.ID), rev)
}

// GetRevision retrieves a revision by ID. Returns ErrNotFound if missing.
func (t *Tx) GetRevision(id string) (*models.RecipeRevision, error) {
	rev := &models.RecipeRevision{}
	if err := t.get(bucketRevisions, []byte(id), rev); err != nil {
		return nil, err
	}
	return rev, nil
}

// ListRevisions walks the parent chain from the recipe's latest revision,
// returning revisions newest first.
func (t *Tx) ListRevisions(recipeID int64) ([]*models.RecipeRevision, error) {
	recipe, err := t.GetRecipe(recipeID)
	if err != nil {
		return nil, err
	}

	var revs []*models.RecipeRevision
	seen := make(map[string]bool)
	for id := recipe.LatestRevisionID; id != "" && !seen[id]; {
		seen[id] = true
		rev, err := t.GetRevision(id)
		if err != nil {
			return nil, fmt.Errorf("revision %s: %w", id, err)
		}
		revs = append(revs, rev)
		id = rev.ParentID
	}
	return revs, nil
}

// GetRevision retrieves a revision by ID in its own transaction.
func (s *Store) GetRevision(id string) (*models.RecipeRevision, error) {
	var rev *models.RecipeRevision
	err := s.View(func(tx *Tx) error {
		var err error
		rev, err = tx.GetRevision(id)
		return err
	})
	return rev, err
}

// ListRevisions returns the revision chain of a recipe, newest first.
func (s *Store) ListRevisions(recipeID int64) ([]*models.RecipeRevision, error) {
	var revs []*models.RecipeRevision
	err := s.View(func(tx *Tx) error {
		var err error
		revs, err = tx.ListRevisions(recipeID)
		return err
	})
	return revs, err
}
