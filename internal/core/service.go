// Package core orchestrates the recipe lifecycle: revising, review,
// enabling and keeping content signatures in step with what is served.
package core

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kilupskalvis/normandy/internal/models"
	"github.com/kilupskalvis/normandy/internal/store"
	"github.com/kilupskalvis/normandy/internal/validation"
)

// ErrSigningDisabled is returned by batch signing when no signer is
// configured.
var ErrSigningDisabled = errors.New("signing is not configured")

// Signer produces one signature per payload, in input order.
type Signer interface {
	SignData(ctx context.Context, payloads [][]byte) ([]*models.Signature, error)
}

// Service runs recipe operations against a store. Every operation commits
// its writes in a single transaction.
type Service struct {
	store     *store.Store
	signer    Signer
	validator *validation.SchemaValidator
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a service. A nil signer disables signing: recipes are
// never signed and existing signatures are cleared when they are touched.
func NewService(st *store.Store, signer Signer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		signer:    signer,
		validator: validation.NewSchemaValidator(),
		logger:    logger,
		now:       time.Now,
	}
}

// Store returns the underlying store.
func (s *Service) Store() *store.Store {
	return s.store
}

// SigningEnabled reports whether a signer is configured.
func (s *Service) SigningEnabled() bool {
	return s.signer != nil
}

// resign refreshes the signature of a recipe after a state change. Failures
// leave the signature cleared and are only logged.
func (s *Service) resign(ctx context.Context, recipeID int64) {
	if err := s.UpdateSignature(ctx, recipeID); err != nil {
		s.logger.Warn("recipe signature update failed", "recipe_id", recipeID, "error", err)
	}
}
