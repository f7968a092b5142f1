package store

import (
	"encoding/json"
	"fmt"

	"github.com/kilupskalvis/normandy/internal/models"
)

// CreateRecipe assigns r a new ID and stores it.
func (t *Tx) CreateRecipe(r *models.Recipe) error {
	id, err := t.nextID(bucketRecipes)
	if err != nil {
		return err
	}
	r.ID = id
	return t.put(bucketRecipes, itob(id), r)
}

// GetRecipe retrieves a recipe by ID. Returns ErrNotFound if missing.
func (t *Tx) GetRecipe(id int64) (*models.Recipe, error) {
	r := &models.Recipe{}
	if err := t.get(bucketRecipes, itob(id), r); err != nil {
		return nil, err
	}
	return r, nil
}

// SaveRecipe overwrites an existing recipe. The signature of the stored and
// new value must stay coupled to the signed content.
func (t *Tx) SaveRecipe(r *models.Recipe) error {
	old, err := t.GetRecipe(r.ID)
	if err != nil {
		return err
	}
	if err := models.CheckSignatureCoupling(old, r); err != nil {
		return fmt.Errorf("save recipe %d: %w", r.ID, err)
	}
	return t.put(bucketRecipes, itob(r.ID), r)
}

// ListRecipes returns all recipes ordered by ID.
func (t *Tx) ListRecipes() ([]*models.Recipe, error) {
	b, err := t.bucket(bucketRecipes)
	if err != nil {
		return nil, err
	}
	var recipes []*models.Recipe
	err = b.ForEach(func(_, v []byte) error {
		var r models.Recipe
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("unmarshal recipe: %w", err)
		}
		recipes = append(recipes, &r)
		return nil
	})
	return recipes, err
}

// GetRecipe retrieves a recipe by ID in its own transaction.
func (s *Store) GetRecipe(id int64) (*models.Recipe, error) {
	var r *models.Recipe
	err := s.View(func(tx *Tx) error {
		var err error
		r, err = tx.GetRecipe(id)
		return err
	})
	return r, err
}

// ListRecipes returns all recipes ordered by ID.
func (s *Store) ListRecipes() ([]*models.Recipe, error) {
	var recipes []*models.Recipe
	err := s.View(func(tx *Tx) error {
		var err error
		recipes, err = tx.ListRecipes()
		return err
	})
	return recipes, err
}
