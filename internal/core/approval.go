package core

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/normandy/internal/models"
	"github.com/kilupskalvis/normandy/internal/store"
)

// RequestApproval opens a review of a revision. A revision holds at most
// one request at a time.
func (s *Service) RequestApproval(ctx context.Context, revisionID, creator string) (*models.ApprovalRequest, error) {
	var req *models.ApprovalRequest
	err := s.store.Update(func(tx *store.Tx) error {
		if _, err := tx.GetRevision(revisionID); err != nil {
			return fmt.Errorf("revision %s: %w", revisionID, err)
		}
		existing, err := tx.ApprovalRequestForRevision(revisionID)
		if err != nil {
			return err
		}
		if err := models.CanRequestApproval(existing); err != nil {
			return err
		}
		req = &models.ApprovalRequest{
			RevisionID: revisionID,
			Created:    s.now().UTC(),
			Creator:    creator,
		}
		return tx.CreateApprovalRequest(req)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("approval requested", "approval_request_id", req.ID, "revision_id", revisionID)
	return req, nil
}

// Approve approves a pending request and makes its revision the approved
// revision of the recipe. If the previously approved revision was enabled,
// the new revision starts out enabled as well.
func (s *Service) Approve(ctx context.Context, requestID int64, approver, comment string) (*models.ApprovalRequest, error) {
	var result models.ApprovalRequest
	var recipeID int64
	err := s.store.Update(func(tx *store.Tx) error {
		req, rev, recipe, err := loadRequest(tx, requestID)
		if err != nil {
			return err
		}
		result, err = req.Approve(approver, comment)
		if err != nil {
			return err
		}
		if err := tx.SaveApprovalRequest(&result); err != nil {
			return err
		}

		previous := recipe.ApprovedRevisionID
		if previous != "" && previous != rev.ID {
			state, err := tx.CurrentEnabledState(previous)
			if err != nil {
				return err
			}
			if state.IsEnabled() {
				carried := &models.EnabledState{
					RevisionID:    rev.ID,
					Created:       s.now().UTC(),
					Creator:       approver,
					Enabled:       true,
					CarryoverFrom: previous,
				}
				if err := tx.AddEnabledState(carried); err != nil {
					return err
				}
			}
		}

		recipe.SetState(recipe.State().Approve(rev.ID))
		recipe.Signature = nil
		recipeID = recipe.ID
		return tx.SaveRecipe(recipe)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("approval request approved", "approval_request_id", requestID, "recipe_id", recipeID)
	s.resign(ctx, recipeID)
	return &result, nil
}

// Reject rejects a pending request. The approved revision is unchanged.
func (s *Service) Reject(ctx context.Context, requestID int64, approver, comment string) (*models.ApprovalRequest, error) {
	var result models.ApprovalRequest
	err := s.store.Update(func(tx *store.Tx) error {
		req, _, _, err := loadRequest(tx, requestID)
		if err != nil {
			return err
		}
		result, err = req.Reject(approver, comment)
		if err != nil {
			return err
		}
		return tx.SaveApprovalRequest(&result)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("approval request rejected", "approval_request_id", requestID)
	return &result, nil
}

// Close deletes a request so that a new one may be opened.
func (s *Service) Close(ctx context.Context, requestID int64) error {
	err := s.store.Update(func(tx *store.Tx) error {
		if _, err := tx.GetApprovalRequest(requestID); err != nil {
			return fmt.Errorf("approval request %d: %w", requestID, err)
		}
		return tx.DeleteApprovalRequest(requestID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("approval request closed", "approval_request_id", requestID)
	return nil
}

func loadRequest(tx *store.Tx, requestID int64) (*models.ApprovalRequest, *models.RecipeRevision, *models.Recipe, error) {
	req, err := tx.GetApprovalRequest(requestID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("approval request %d: %w", requestID, err)
	}
	rev, err := tx.GetRevision(req.RevisionID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("revision %s: %w", req.RevisionID, err)
	}
	recipe, err := tx.GetRecipe(rev.RecipeID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("recipe %d: %w", rev.RecipeID, err)
	}
	return req, rev, recipe, nil
}
