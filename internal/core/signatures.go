package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kilupskalvis/normandy/internal/canonical"
	"github.com/kilupskalvis/normandy/internal/filters"
	"github.com/kilupskalvis/normandy/internal/models"
	"github.com/kilupskalvis/normandy/internal/store"
)

// RecipePayload is the signed representation of a recipe's approved
// revision. Its canonical JSON is what the signature covers.
type RecipePayload struct {
	ID                           int64           `json:"id"`
	Name                         string          `json:"name"`
	RevisionID                   string          `json:"revision_id"`
	Action                       string          `json:"action"`
	Arguments                    json.RawMessage `json:"arguments"`
	FilterExpression             string          `json:"filter_expression"`
	Capabilities                 []string        `json:"capabilities"`
	UsesOnlyBaselineCapabilities bool            `json:"uses_only_baseline_capabilities"`
}

// SignedRecipe is the envelope served to clients.
type SignedRecipe struct {
	Signature *models.Signature `json:"signature"`
	Recipe    RecipePayload     `json:"recipe"`
}

// SignatureReport lists what a batch signing run changed.
type SignatureReport struct {
	SignedRecipes   []int64
	UnsignedRecipes []int64
	SignedActions   []int64
	Skipped         []int64
}

// BuildPayload returns the payload of recipe's approved revision.
func BuildPayload(tx *store.Tx, recipe *models.Recipe) (*RecipePayload, error) {
	if !recipe.IsApproved() {
		return nil, fmt.Errorf("recipe %d: %w", recipe.ID, models.ErrNotApproved)
	}
	rev, err := tx.GetRevision(recipe.ApprovedRevisionID)
	if err != nil {
		return nil, fmt.Errorf("revision %s: %w", recipe.ApprovedRevisionID, err)
	}
	action, err := tx.GetAction(rev.ActionID)
	if err != nil {
		return nil, fmt.Errorf("action %d: %w", rev.ActionID, err)
	}
	args := rev.Arguments
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}
	caps := rev.Capabilities
	if caps == nil {
		caps = []string{}
	}
	return &RecipePayload{
		ID:                           recipe.ID,
		Name:                         rev.Name,
		RevisionID:                   rev.ID,
		Action:                       action.Name,
		Arguments:                    args,
		FilterExpression:             rev.FilterExpression,
		Capabilities:                 caps,
		UsesOnlyBaselineCapabilities: filters.UsesOnlyBaseline(caps),
	}, nil
}

// CanonicalRecipe returns the bytes a recipe signature covers.
func CanonicalRecipe(tx *store.Tx, recipe *models.Recipe) ([]byte, error) {
	payload, err := BuildPayload(tx, recipe)
	if err != nil {
		return nil, err
	}
	return canonical.JSON(payload)
}

// CanonicalAction returns the bytes an action signature covers.
func CanonicalAction(action *models.Action) ([]byte, error) {
	return canonical.JSON(action.Payload())
}

// UpdateSignature signs an enabled recipe, or clears the signature of one
// that is not enabled. If signing fails the signature is cleared.
func (s *Service) UpdateSignature(ctx context.Context, recipeID int64) error {
	var data []byte
	var enabled bool
	err := s.store.View(func(tx *store.Tx) error {
		recipe, err := tx.GetRecipe(recipeID)
		if err != nil {
			return fmt.Errorf("recipe %d: %w", recipeID, err)
		}
		enabled, err = IsEnabled(tx, recipe)
		if err != nil || !enabled {
			return err
		}
		data, err = CanonicalRecipe(tx, recipe)
		return err
	})
	if err != nil {
		return err
	}

	if !enabled || s.signer == nil {
		return s.clearSignature(recipeID)
	}

	sigs, err := s.signer.SignData(ctx, [][]byte{data})
	if err == nil && len(sigs) != 1 {
		err = fmt.Errorf("expected 1 signature, got %d", len(sigs))
	}
	if err != nil {
		if cerr := s.clearSignature(recipeID); cerr != nil {
			s.logger.Error("clearing signature after failure", "recipe_id", recipeID, "error", cerr)
		}
		return fmt.Errorf("sign recipe %d: %w", recipeID, err)
	}

	return s.store.Update(func(tx *store.Tx) error {
		return saveRecipeSignature(tx, recipeID, data, sigs[0])
	})
}

// UpdateSignatures signs every enabled recipe without a signature, or every
// enabled recipe when force is set, and unsigns disabled recipes. Actions
// are handled the same way. All payloads go to the signer in one batch.
func (s *Service) UpdateSignatures(ctx context.Context, force bool) (*SignatureReport, error) {
	if s.signer == nil {
		return nil, ErrSigningDisabled
	}
	report := &SignatureReport{}

	type pending struct {
		recipeID int64
		actionID int64
		data     []byte
	}
	var batch []pending

	err := s.store.Update(func(tx *store.Tx) error {
		recipes, err := tx.ListRecipes()
		if err != nil {
			return err
		}
		for _, r := range recipes {
			enabled, err := IsEnabled(tx, r)
			if err != nil {
				return err
			}
			switch {
			case !enabled && r.Signature != nil:
				r.Signature = nil
				if err := tx.SaveRecipe(r); err != nil {
					return err
				}
				report.UnsignedRecipes = append(report.UnsignedRecipes, r.ID)
			case enabled && (force || r.Signature == nil):
				data, err := CanonicalRecipe(tx, r)
				if err != nil {
					return err
				}
				batch = append(batch, pending{recipeID: r.ID, data: data})
			}
		}

		actions, err := tx.ListActions()
		if err != nil {
			return err
		}
		for _, a := range actions {
			if !force && a.Signature != nil {
				continue
			}
			data, err := CanonicalAction(a)
			if err != nil {
				return err
			}
			batch = append(batch, pending{actionID: a.ID, data: data})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return report, nil
	}

	payloads := make([][]byte, len(batch))
	for i, p := range batch {
		payloads[i] = p.data
	}
	sigs, err := s.signer.SignData(ctx, payloads)
	if err != nil {
		return report, fmt.Errorf("sign batch: %w", err)
	}
	if len(sigs) != len(batch) {
		return report, fmt.Errorf("expected %d signatures, got %d", len(batch), len(sigs))
	}

	err = s.store.Update(func(tx *store.Tx) error {
		for i, p := range batch {
			if p.actionID != 0 {
				if err := saveActionSignature(tx, p.actionID, p.data, sigs[i]); err != nil {
					return err
				}
				report.SignedActions = append(report.SignedActions, p.actionID)
				continue
			}
			err := saveRecipeSignature(tx, p.recipeID, p.data, sigs[i])
			if err != nil && !isStale(err) {
				return err
			}
			if err != nil {
				s.logger.Warn("recipe changed while signing", "recipe_id", p.recipeID)
				report.Skipped = append(report.Skipped, p.recipeID)
				continue
			}
			report.SignedRecipes = append(report.SignedRecipes, p.recipeID)
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	s.logger.Info("signatures updated",
		"signed", len(report.SignedRecipes),
		"unsigned", len(report.UnsignedRecipes),
		"actions", len(report.SignedActions),
		"skipped", len(report.Skipped))
	return report, nil
}

// SignedRecipes returns the envelopes of every enabled, signed recipe.
func (s *Service) SignedRecipes(ctx context.Context) ([]SignedRecipe, error) {
	out := []SignedRecipe{}
	err := s.store.View(func(tx *store.Tx) error {
		recipes, err := tx.ListRecipes()
		if err != nil {
			return err
		}
		for _, r := range recipes {
			if r.Signature == nil {
				continue
			}
			enabled, err := IsEnabled(tx, r)
			if err != nil {
				return err
			}
			if !enabled {
				continue
			}
			payload, err := BuildPayload(tx, r)
			if err != nil {
				return err
			}
			out = append(out, SignedRecipe{Signature: r.Signature, Recipe: *payload})
		}
		return nil
	})
	return out, err
}

func (s *Service) clearSignature(recipeID int64) error {
	return s.store.Update(func(tx *store.Tx) error {
		recipe, err := tx.GetRecipe(recipeID)
		if err != nil || recipe.Signature == nil {
			return err
		}
		recipe.Signature = nil
		return tx.SaveRecipe(recipe)
	})
}

// saveRecipeSignature stores sig if the recipe still canonicalizes to data.
func saveRecipeSignature(tx *store.Tx, recipeID int64, data []byte, sig *models.Signature) error {
	recipe, err := tx.GetRecipe(recipeID)
	if err != nil {
		return err
	}
	enabled, err := IsEnabled(tx, recipe)
	if err != nil {
		return err
	}
	if !enabled {
		return fmt.Errorf("recipe %d: %w", recipeID, models.ErrStaleSignature)
	}
	current, err := CanonicalRecipe(tx, recipe)
	if err != nil {
		return err
	}
	if !canonical.Equal(current, data) {
		return fmt.Errorf("recipe %d: %w", recipeID, models.ErrStaleSignature)
	}
	recipe.Signature = sig
	return tx.SaveRecipe(recipe)
}

func saveActionSignature(tx *store.Tx, actionID int64, data []byte, sig *models.Signature) error {
	action, err := tx.GetAction(actionID)
	if err != nil {
		return err
	}
	current, err := CanonicalAction(action)
	if err != nil {
		return err
	}
	if !canonical.Equal(current, data) {
		return fmt.Errorf("action %d: %w", actionID, models.ErrStaleSignature)
	}
	action.Signature = sig
	return tx.SaveAction(action)
}

func isStale(err error) bool {
	return errors.Is(err, models.ErrStaleSignature)
}
