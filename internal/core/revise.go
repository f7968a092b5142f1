package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kilupskalvis/normandy/internal/filters"
	"github.com/kilupskalvis/normandy/internal/models"
	"github.com/kilupskalvis/normandy/internal/store"
	"github.com/kilupskalvis/normandy/internal/validation"
)

const (
	msgRequired         = "This field is required."
	msgInvalidAction    = "Invalid action."
	msgFilterRequired   = "one of extra_filter_expression or filter_object is required"
	msgSampleRateBounds = "Ensure this value is between 0 and 100."
)

// CreateRecipe creates a recipe together with its first revision.
func (s *Service) CreateRecipe(ctx context.Context, creator string, data models.RevisionData) (*models.Recipe, *models.RecipeRevision, error) {
	var recipe *models.Recipe
	var rev *models.RecipeRevision
	err := s.store.Update(func(tx *store.Tx) error {
		compiled, err := s.prepare(tx, data)
		if err != nil {
			return err
		}
		recipe = &models.Recipe{Created: s.now().UTC()}
		if err := tx.CreateRecipe(recipe); err != nil {
			return err
		}
		rev, err = s.addRevision(tx, recipe, creator, data, compiled)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("recipe created", "recipe_id", recipe.ID, "revision_id", rev.ID)
	return recipe, rev, nil
}

// Revise records data as the new latest revision of a recipe. When data is
// identical to the latest revision no revision is created and the latest is
// returned, unless force is set. A pending approval request on the
// superseded revision is deleted.
func (s *Service) Revise(ctx context.Context, recipeID int64, creator string, data models.RevisionData, force bool) (*models.RecipeRevision, error) {
	var rev *models.RecipeRevision
	created := false
	err := s.store.Update(func(tx *store.Tx) error {
		recipe, err := tx.GetRecipe(recipeID)
		if err != nil {
			return fmt.Errorf("recipe %d: %w", recipeID, err)
		}

		if recipe.LatestRevisionID != "" && !force {
			latest, err := tx.GetRevision(recipe.LatestRevisionID)
			if err != nil {
				return err
			}
			if latest.RevisionData.Equal(data) {
				rev = latest
				return nil
			}
		}

		compiled, err := s.prepare(tx, data)
		if err != nil {
			return err
		}
		if err := s.cancelPendingRequest(tx, recipe.LatestRevisionID); err != nil {
			return err
		}
		rev, err = s.addRevision(tx, recipe, creator, data, compiled)
		created = err == nil
		return err
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info("recipe revised", "recipe_id", recipeID, "revision_id", rev.ID, "parent_id", rev.ParentID)
		s.resign(ctx, recipeID)
	}
	return rev, nil
}

// CompileFilters validates and compiles filter objects without storing
// anything.
func CompileFilters(raws []json.RawMessage, extra string) (string, error) {
	fs, ferr := filters.ParseList(raws)
	errs := validation.NewError()
	errs.Merge("filter_object", ferr)
	if extra != "" {
		if err := filters.CheckExpression(extra); err != nil {
			errs.Add("extra_filter_expression", err.Error())
		}
	}
	if !errs.Empty() {
		return "", errs
	}
	return filterExpression(fs, extra), nil
}

type compiledRevision struct {
	action           *models.Action
	filterExpression string
	capabilities     []string
}

// prepare validates data and compiles its filter expression. Validation
// failures are returned as a *validation.Error.
func (s *Service) prepare(tx *store.Tx, data models.RevisionData) (*compiledRevision, error) {
	errs := validation.NewError()

	if strings.TrimSpace(data.Name) == "" {
		errs.Add("name", msgRequired)
	}

	action, err := tx.GetAction(data.ActionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		errs.Add("action_id", msgInvalidAction)
	case err != nil:
		return nil, err
	default:
		argErrs, err := s.validator.ValidateArguments(action.ArgumentsSchema, data.Arguments)
		if err != nil {
			return nil, fmt.Errorf("action %q schema: %w", action.Name, err)
		}
		errs.Merge("", argErrs)
	}

	if data.ExtraFilterExpression != "" {
		if err := filters.CheckExpression(data.ExtraFilterExpression); err != nil {
			errs.Add("extra_filter_expression", err.Error())
		}
	}

	fs, ferr := filters.ParseList(data.FilterObject)
	errs.Merge("filter_object", ferr)

	shortcuts, serr := shortcutFilters(data)
	errs.Merge("", serr)

	if len(data.FilterObject) == 0 && data.ExtraFilterExpression == "" && len(shortcuts) == 0 && data.Legacy == nil {
		errs.Add("extra_filter_expression", msgFilterRequired)
		errs.Add("filter_object", msgFilterRequired)
	}

	errs.Merge("", validation.CheckIdenticonSeed(data.IdenticonSeed))

	if data.Legacy != nil && (data.Legacy.SampleRate < 0 || data.Legacy.SampleRate > 100) {
		errs.Add("legacy.sample_rate", msgSampleRateBounds)
	}

	if !errs.Empty() {
		return nil, errs
	}

	all := append(shortcuts, fs...)
	return &compiledRevision{
		action:           action,
		filterExpression: filterExpression(all, data.ExtraFilterExpression),
		capabilities:     filters.RecipeCapabilities(action.Name, all),
	}, nil
}

// shortcutFilters turns the channels, countries and locales lists into
// filter objects so they are validated and compiled like any other.
func shortcutFilters(data models.RevisionData) ([]filters.Filter, *validation.Error) {
	errs := validation.NewError()
	var out []filters.Filter
	add := func(field, typ string, values []string) {
		if len(values) == 0 {
			return
		}
		raw, err := json.Marshal(map[string]any{"type": typ, field: values})
		if err != nil {
			errs.Add(field, err.Error())
			return
		}
		f, ferr := filters.Parse(raw)
		if !ferr.Empty() {
			for _, m := range ferr.Messages(field) {
				errs.Add(field, m)
			}
			return
		}
		out = append(out, f)
	}
	add("channels", filters.TypeChannel, data.Channels)
	add("countries", filters.TypeCountry, data.Countries)
	add("locales", filters.TypeLocale, data.Locales)
	return out, errs
}

func filterExpression(fs []filters.Filter, extra string) string {
	parts := make([]string, 0, len(fs)+1)
	for _, f := range fs {
		parts = append(parts, filters.Compile(f))
	}
	parts = append(parts, extra)
	return filters.AndJoin(parts)
}

// addRevision stores a revision as the new latest one of recipe. The
// recipe's signature is dropped with the pointer change and restored by a
// later re-sign.
func (s *Service) addRevision(tx *store.Tx, recipe *models.Recipe, creator string, data models.RevisionData, c *compiledRevision) (*models.RecipeRevision, error) {
	created := s.now().UTC()
	rev := &models.RecipeRevision{
		RecipeID:         recipe.ID,
		ParentID:         recipe.LatestRevisionID,
		Created:          created,
		Creator:          creator,
		RevisionData:     data,
		FilterExpression: c.filterExpression,
		Capabilities:     c.capabilities,
	}
	rev.ID = models.GenerateRevisionID(recipe.ID, created, data.Name, data.ActionID, data.Arguments, c.filterExpression)
	if err := tx.CreateRevision(rev); err != nil {
		return nil, err
	}

	recipe.SetState(recipe.State().Revise(rev.ID))
	recipe.Signature = nil
	if err := tx.SaveRecipe(recipe); err != nil {
		return nil, err
	}
	return rev, nil
}

func (s *Service) cancelPendingRequest(tx *store.Tx, revisionID string) error {
	if revisionID == "" {
		return nil
	}
	req, err := tx.ApprovalRequestForRevision(revisionID)
	if err != nil || req.Status() != models.StatusPending {
		return err
	}
	if err := tx.DeleteApprovalRequest(req.ID); err != nil {
		return err
	}
	s.logger.Info("pending approval request cancelled by revision",
		"approval_request_id", req.ID, "revision_id", revisionID)
	return nil
}
