package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kilupskalvis/normandy/internal/models"
	"github.com/kilupskalvis/normandy/internal/store"
	"github.com/kilupskalvis/normandy/internal/targeting"
	"github.com/kilupskalvis/normandy/internal/validation"
)

// RevisionStatus pairs a revision with the state of its review.
type RevisionStatus struct {
	Revision        *models.RecipeRevision  `json:"revision"`
	ApprovalStatus  models.ApprovalStatus   `json:"approval_status"`
	ApprovalRequest *models.ApprovalRequest `json:"approval_request,omitempty"`
}

// RecipeDetail is the full view of a recipe.
type RecipeDetail struct {
	Recipe    *models.Recipe         `json:"recipe"`
	Latest    *models.RecipeRevision `json:"latest_revision,omitempty"`
	Approved  *models.RecipeRevision `json:"approved_revision,omitempty"`
	Enabled   bool                   `json:"enabled"`
	Revisions []RevisionStatus       `json:"revisions"`
}

// GetRecipe returns a recipe with its revision chain, newest first.
func (s *Service) GetRecipe(ctx context.Context, recipeID int64) (*RecipeDetail, error) {
	var detail *RecipeDetail
	err := s.store.View(func(tx *store.Tx) error {
		recipe, err := tx.GetRecipe(recipeID)
		if err != nil {
			return fmt.Errorf("recipe %d: %w", recipeID, err)
		}
		detail = &RecipeDetail{Recipe: recipe}
		if detail.Enabled, err = IsEnabled(tx, recipe); err != nil {
			return err
		}

		revs, err := tx.ListRevisions(recipeID)
		if err != nil {
			return err
		}
		for _, rev := range revs {
			req, err := tx.ApprovalRequestForRevision(rev.ID)
			if err != nil {
				return err
			}
			status := req.Status()
			// A closed request leaves the approval itself standing.
			if req == nil && rev.ID == recipe.ApprovedRevisionID {
				status = models.StatusApproved
			}
			detail.Revisions = append(detail.Revisions, RevisionStatus{
				Revision:        rev,
				ApprovalStatus:  status,
				ApprovalRequest: req,
			})
			if rev.ID == recipe.LatestRevisionID {
				detail.Latest = rev
			}
			if rev.ID == recipe.ApprovedRevisionID {
				detail.Approved = rev
			}
		}
		if detail.Approved == nil && recipe.IsApproved() {
			if detail.Approved, err = tx.GetRevision(recipe.ApprovedRevisionID); err != nil {
				return err
			}
		}
		return nil
	})
	return detail, err
}

// ListRecipes returns every recipe.
func (s *Service) ListRecipes(ctx context.Context) ([]*RecipeDetail, error) {
	recipes, err := s.store.ListRecipes()
	if err != nil {
		return nil, err
	}
	out := make([]*RecipeDetail, 0, len(recipes))
	for _, r := range recipes {
		d, err := s.GetRecipe(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// LatestData returns the content of the latest revision, the base that a
// partial update is applied to.
func (s *Service) LatestData(ctx context.Context, recipeID int64) (models.RevisionData, error) {
	recipe, err := s.store.GetRecipe(recipeID)
	if err != nil {
		return models.RevisionData{}, fmt.Errorf("recipe %d: %w", recipeID, err)
	}
	if recipe.LatestRevisionID == "" {
		return models.RevisionData{}, nil
	}
	rev, err := s.store.GetRevision(recipe.LatestRevisionID)
	if err != nil {
		return models.RevisionData{}, err
	}
	return rev.RevisionData, nil
}

// FetchBundle returns the payloads of enabled recipes whose legacy targeting
// matches client. Recipes without legacy targeting are left to client-side
// filter evaluation and are not included.
func (s *Service) FetchBundle(ctx context.Context, client targeting.Client) ([]RecipePayload, error) {
	out := []RecipePayload{}
	err := s.store.View(func(tx *store.Tx) error {
		recipes, err := tx.ListRecipes()
		if err != nil {
			return err
		}
		for _, r := range recipes {
			if !r.IsApproved() {
				continue
			}
			rev, err := tx.GetRevision(r.ApprovedRevisionID)
			if err != nil {
				return err
			}
			if rev.Legacy == nil {
				continue
			}
			enabled, err := IsEnabled(tx, r)
			if err != nil {
				return err
			}
			candidate := targeting.Recipe{
				ID:         r.ID,
				Enabled:    enabled,
				Locale:     rev.Legacy.Locale,
				Country:    rev.Legacy.Country,
				StartTime:  rev.Legacy.StartTime,
				EndTime:    rev.Legacy.EndTime,
				SampleRate: rev.Legacy.SampleRate,
			}
			if !targeting.Matches(s.logger, candidate, client) {
				continue
			}
			payload, err := BuildPayload(tx, r)
			if err != nil {
				return err
			}
			out = append(out, *payload)
		}
		return nil
	})
	return out, err
}

// CreateAction registers an action. The arguments schema must be a JSON
// object.
func (s *Service) CreateAction(ctx context.Context, action *models.Action) error {
	if err := checkAction(action); err != nil {
		return err
	}
	err := s.store.Update(func(tx *store.Tx) error {
		return tx.CreateAction(action)
	})
	if errors.Is(err, store.ErrConflict) {
		return validation.FieldError("name", "An action with this name already exists.")
	}
	if err != nil {
		return err
	}
	s.logger.Info("action created", "action_id", action.ID, "action", action.Name)
	return nil
}

// ListActions returns every action.
func (s *Service) ListActions(ctx context.Context) ([]*models.Action, error) {
	return s.store.ListActions()
}

func checkAction(action *models.Action) error {
	errs := validation.NewError()
	if action.Name == "" {
		errs.Add("name", msgRequired)
	}
	if len(action.ArgumentsSchema) == 0 {
		action.ArgumentsSchema = json.RawMessage("{}")
	}
	var schema map[string]any
	if err := json.Unmarshal(action.ArgumentsSchema, &schema); err != nil {
		errs.Add("arguments_schema", "Value must be a JSON object.")
	}
	return errs.Err()
}
