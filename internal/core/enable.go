package core

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/normandy/internal/models"
	"github.com/kilupskalvis/normandy/internal/store"
)

// Enable enables the approved revision of a recipe.
func (s *Service) Enable(ctx context.Context, recipeID int64, user string) (*models.EnabledState, error) {
	return s.setEnabled(ctx, recipeID, user, true)
}

// Disable disables the approved revision of a recipe.
func (s *Service) Disable(ctx context.Context, recipeID int64, user string) (*models.EnabledState, error) {
	return s.setEnabled(ctx, recipeID, user, false)
}

func (s *Service) setEnabled(ctx context.Context, recipeID int64, user string, enabled bool) (*models.EnabledState, error) {
	var state *models.EnabledState
	err := s.store.Update(func(tx *store.Tx) error {
		recipe, err := tx.GetRecipe(recipeID)
		if err != nil {
			return fmt.Errorf("recipe %d: %w", recipeID, err)
		}
		current, err := tx.CurrentEnabledState(recipe.ApprovedRevisionID)
		if err != nil {
			return err
		}
		if enabled {
			err = recipe.State().Enable(current)
		} else {
			err = recipe.State().Disable(current)
		}
		if err != nil {
			return err
		}

		state = &models.EnabledState{
			RevisionID: recipe.ApprovedRevisionID,
			Created:    s.now().UTC(),
			Creator:    user,
			Enabled:    enabled,
		}
		if err := tx.AddEnabledState(state); err != nil {
			return err
		}
		if recipe.Signature == nil {
			return nil
		}
		recipe.Signature = nil
		return tx.SaveRecipe(recipe)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("recipe enabled state changed", "recipe_id", recipeID, "enabled", enabled)
	s.resign(ctx, recipeID)
	return state, nil
}

// IsEnabled reports whether the approved revision of recipe is enabled.
func IsEnabled(tx *store.Tx, recipe *models.Recipe) (bool, error) {
	state, err := tx.CurrentEnabledState(recipe.ApprovedRevisionID)
	if err != nil {
		return false, err
	}
	return recipe.IsApproved() && state.IsEnabled(), nil
}
