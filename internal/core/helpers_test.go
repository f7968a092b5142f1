package core

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kilupskalvis/normandy/internal/models"
	"github.com/kilupskalvis/normandy/internal/signing"
	"github.com/kilupskalvis/normandy/internal/store"
	"github.com/stretchr/testify/require"
)

// fakeSigner signs payloads with a local P-384 key.
type fakeSigner struct {
	mu      sync.Mutex
	key     *ecdsa.PrivateKey
	batches []int
	err     error
}

func newFakeSigner(t *testing.T) *fakeSigner {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	return &fakeSigner{key: key}
}

func (f *fakeSigner) SignData(ctx context.Context, payloads [][]byte) ([]*models.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, len(payloads))
	if f.err != nil {
		return nil, f.err
	}
	pub, err := signing.EncodePublicKey(&f.key.PublicKey)
	if err != nil {
		return nil, err
	}
	sigs := make([]*models.Signature, len(payloads))
	for i, p := range payloads {
		digest := sha512.Sum384(append([]byte(signing.SignaturePrefix), p...))
		r, s, err := ecdsa.Sign(rand.Reader, f.key, digest[:])
		if err != nil {
			return nil, err
		}
		raw := make([]byte, 96)
		r.FillBytes(raw[:48])
		s.FillBytes(raw[48:])
		sigs[i] = &models.Signature{
			Signature: base64.URLEncoding.EncodeToString(raw),
			Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			PublicKey: pub,
			X5U:       "https://example.com/chain.pem",
		}
	}
	return sigs, nil
}

func (f *fakeSigner) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSigner) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.batches...)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "normandy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// newTestService returns a service whose clock advances one second per
// reading, so revision IDs never collide.
func newTestService(t *testing.T, signer Signer) *Service {
	t.Helper()
	svc := NewService(newTestStore(t), signer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return svc
}

const consoleLogSchema = `{
	"type": "object",
	"properties": {"message": {"type": "string"}},
	"required": ["message"]
}`

func createConsoleLog(t *testing.T, svc *Service) *models.Action {
	t.Helper()
	action := &models.Action{Name: "console-log", ArgumentsSchema: json.RawMessage(consoleLogSchema)}
	require.NoError(t, svc.CreateAction(context.Background(), action))
	return action
}

func recipeData(actionID int64, name string) models.RevisionData {
	return models.RevisionData{
		Name:         name,
		ActionID:     actionID,
		Arguments:    json.RawMessage(`{"message":"hello"}`),
		FilterObject: []json.RawMessage{json.RawMessage(`{"type":"channel","channels":["release"]}`)},
	}
}

func createTestRecipe(t *testing.T, svc *Service, name string) (*models.Recipe, *models.RecipeRevision) {
	t.Helper()
	action, err := svc.store.GetActionByName("console-log")
	if err != nil {
		action = createConsoleLog(t, svc)
	}
	recipe, rev, err := svc.CreateRecipe(context.Background(), "alice@example.com", recipeData(action.ID, name))
	require.NoError(t, err)
	return recipe, rev
}

// approveRevision requests approval as alice and approves as bob.
func approveRevision(t *testing.T, svc *Service, revisionID string) *models.ApprovalRequest {
	t.Helper()
	ctx := context.Background()
	req, err := svc.RequestApproval(ctx, revisionID, "alice@example.com")
	require.NoError(t, err)
	approved, err := svc.Approve(ctx, req.ID, "bob@example.com", "r+")
	require.NoError(t, err)
	return approved
}

// enabledRecipe creates, approves and enables a recipe.
func enabledRecipe(t *testing.T, svc *Service, name string) *models.Recipe {
	t.Helper()
	recipe, rev := createTestRecipe(t, svc, name)
	approveRevision(t, svc, rev.ID)
	_, err := svc.Enable(context.Background(), recipe.ID, "bob@example.com")
	require.NoError(t, err)
	return recipe
}

func reload(t *testing.T, svc *Service, recipeID int64) *models.Recipe {
	t.Helper()
	r, err := svc.store.GetRecipe(recipeID)
	require.NoError(t, err)
	return r
}
