package core

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kilupskalvis/normandy/internal/models"
	"github.com/kilupskalvis/normandy/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==================== Create Tests ====================

func TestCreateRecipe_CompilesFilterExpression(t *testing.T) {
	svc := newTestService(t, nil)
	recipe, rev := createTestRecipe(t, svc, "first")

	assert.Equal(t, rev.ID, recipe.LatestRevisionID)
	assert.Empty(t, recipe.ApprovedRevisionID)
	assert.Empty(t, rev.ParentID)
	assert.Len(t, rev.ID, 64)
	assert.Equal(t, `normandy.channel in ["release"]`, rev.FilterExpression)
	assert.Contains(t, rev.Capabilities, "action.console-log")
	assert.Contains(t, rev.Capabilities, "capabilities-v1")
}

func TestCreateRecipe_CombinesShortcutsAndExtraExpression(t *testing.T) {
	svc := newTestService(t, nil)
	action := createConsoleLog(t, svc)

	data := recipeData(action.ID, "combined")
	data.Locales = []string{"en-US"}
	data.ExtraFilterExpression = "normandy.isFirstRun"
	_, rev, err := svc.CreateRecipe(context.Background(), "alice", data)
	require.NoError(t, err)

	assert.Equal(t,
		`(normandy.locale in ["en-US"])&&(normandy.channel in ["release"])&&(normandy.isFirstRun)`,
		rev.FilterExpression)
}

func TestCreateRecipe_ValidationErrors(t *testing.T) {
	svc := newTestService(t, nil)
	action := createConsoleLog(t, svc)

	tests := []struct {
		name    string
		mutate  func(d *models.RevisionData)
		path    string
		message string
	}{
		{
			name:    "missing name",
			mutate:  func(d *models.RevisionData) { d.Name = "" },
			path:    "name",
			message: "This field is required.",
		},
		{
			name:    "unknown action",
			mutate:  func(d *models.RevisionData) { d.ActionID = 999 },
			path:    "action_id",
			message: "Invalid action.",
		},
		{
			name: "unknown filter type",
			mutate: func(d *models.RevisionData) {
				d.FilterObject = []json.RawMessage{json.RawMessage(`{"type":"bogus"}`)}
			},
			path:    "filter_object.0.type",
			message: `Unknown filter object type "bogus".`,
		},
		{
			name: "nested filter field",
			mutate: func(d *models.RevisionData) {
				d.FilterObject = []json.RawMessage{
					json.RawMessage(`{"type":"channel","channels":["release"]}`),
					json.RawMessage(`{"type":"and","filters":[{"type":"prefExists","value":true}]}`),
				}
			},
			path:    "filter_object.1.filters.0.pref",
			message: "This field is required.",
		},
		{
			name:    "no targeting",
			mutate:  func(d *models.RevisionData) { d.FilterObject = nil },
			path:    "filter_object",
			message: msgFilterRequired,
		},
		{
			name:    "bad identicon seed",
			mutate:  func(d *models.RevisionData) { d.IdenticonSeed = "nope" },
			path:    "identicon_seed",
			message: "Invalid identicon seed",
		},
		{
			name:    "legacy sample rate",
			mutate:  func(d *models.RevisionData) { d.Legacy = &models.LegacyTargeting{SampleRate: 150} },
			path:    "legacy.sample_rate",
			message: msgSampleRateBounds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := recipeData(action.ID, "invalid")
			tt.mutate(&data)

			_, _, err := svc.CreateRecipe(context.Background(), "alice", data)
			var verr *validation.Error
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Messages(tt.path), tt.message, "fields: %v", verr.Fields())
		})
	}

	recipes, err := svc.store.ListRecipes()
	require.NoError(t, err)
	assert.Empty(t, recipes, "failed validation must not store anything")
}

func TestCreateRecipe_ArgumentsValidatedAgainstSchema(t *testing.T) {
	svc := newTestService(t, nil)
	action := createConsoleLog(t, svc)

	data := recipeData(action.ID, "bad-args")
	data.Arguments = json.RawMessage(`{"message": 5}`)
	_, _, err := svc.CreateRecipe(context.Background(), "alice", data)

	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Messages("arguments.message"))
}

func TestCreateRecipe_BadExtraExpression(t *testing.T) {
	svc := newTestService(t, nil)
	action := createConsoleLog(t, svc)

	data := recipeData(action.ID, "bad-jexl")
	data.ExtraFilterExpression = "normandy.channel =="
	_, _, err := svc.CreateRecipe(context.Background(), "alice", data)

	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Messages("extra_filter_expression"))
}

// ==================== Revise Tests ====================

func TestRevise_NoOpWhenUnchanged(t *testing.T) {
	svc := newTestService(t, nil)
	recipe, rev := createTestRecipe(t, svc, "stable")

	same := rev.RevisionData
	got, err := svc.Revise(context.Background(), recipe.ID, "alice", same, false)
	require.NoError(t, err)
	assert.Equal(t, rev.ID, got.ID)

	revs, err := svc.store.ListRevisions(recipe.ID)
	require.NoError(t, err)
	assert.Len(t, revs, 1)
}

func TestRevise_NoOpIgnoresListOrder(t *testing.T) {
	svc := newTestService(t, nil)
	action := createConsoleLog(t, svc)

	data := recipeData(action.ID, "ordered")
	data.Countries = []string{"US", "CA"}
	recipe, rev, err := svc.CreateRecipe(context.Background(), "alice", data)
	require.NoError(t, err)

	data.Countries = []string{"CA", "US"}
	got, err := svc.Revise(context.Background(), recipe.ID, "alice", data, false)
	require.NoError(t, err)
	assert.Equal(t, rev.ID, got.ID)
}

func TestRevise_ForceCreatesRevision(t *testing.T) {
	svc := newTestService(t, nil)
	recipe, rev := createTestRecipe(t, svc, "forced")

	got, err := svc.Revise(context.Background(), recipe.ID, "alice", rev.RevisionData, true)
	require.NoError(t, err)
	assert.NotEqual(t, rev.ID, got.ID)
	assert.Equal(t, rev.ID, got.ParentID)
}

func TestRevise_BuildsChain(t *testing.T) {
	svc := newTestService(t, nil)
	recipe, first := createTestRecipe(t, svc, "v1")

	data := first.RevisionData
	data.Name = "v2"
	second, err := svc.Revise(context.Background(), recipe.ID, "alice", data, false)
	require.NoError(t, err)
	data.Name = "v3"
	third, err := svc.Revise(context.Background(), recipe.ID, "alice", data, false)
	require.NoError(t, err)

	detail, err := svc.GetRecipe(context.Background(), recipe.ID)
	require.NoError(t, err)
	require.Len(t, detail.Revisions, 3)
	assert.Equal(t, third.ID, detail.Revisions[0].Revision.ID)
	assert.Equal(t, second.ID, detail.Revisions[1].Revision.ID)
	assert.Equal(t, first.ID, detail.Revisions[2].Revision.ID)
	assert.Equal(t, second.ID, third.ParentID)
	assert.Equal(t, third.ID, detail.Latest.ID)
}

func TestRevise_CancelsPendingRequest(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	recipe, rev := createTestRecipe(t, svc, "pending")

	req, err := svc.RequestApproval(ctx, rev.ID, "alice")
	require.NoError(t, err)

	data := rev.RevisionData
	data.Name = "edited"
	_, err = svc.Revise(ctx, recipe.ID, "alice", data, false)
	require.NoError(t, err)

	found, err := svc.store.ApprovalRequestForRevision(rev.ID)
	require.NoError(t, err)
	assert.Nil(t, found)

	_, err = svc.store.GetApprovalRequest(req.ID)
	assert.Error(t, err)
}

func TestRevise_KeepsDecidedRequest(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	recipe, rev := createTestRecipe(t, svc, "rejected")

	req, err := svc.RequestApproval(ctx, rev.ID, "alice")
	require.NoError(t, err)
	_, err = svc.Reject(ctx, req.ID, "bob", "no")
	require.NoError(t, err)

	data := rev.RevisionData
	data.Name = "edited"
	_, err = svc.Revise(ctx, recipe.ID, "alice", data, false)
	require.NoError(t, err)

	found, err := svc.store.ApprovalRequestForRevision(rev.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, models.StatusRejected, found.Status())
}

func TestRevise_UnknownRecipe(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.Revise(context.Background(), 42, "alice", models.RevisionData{}, false)
	assert.Error(t, err)
}

// ==================== Compile Tests ====================

func TestCompileFilters(t *testing.T) {
	expr, err := CompileFilters([]json.RawMessage{
		json.RawMessage(`{"type":"version","versions":[57,58]}`),
	}, "")
	require.NoError(t, err)
	assert.Equal(t,
		`(normandy.version>="57"&&normandy.version<"58")||(normandy.version>="58"&&normandy.version<"59")`,
		expr)

	_, err = CompileFilters([]json.RawMessage{json.RawMessage(`{"type":"channel","channels":[]}`)}, "")
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Messages("filter_object.0.channels"))
}

// ==================== Action Tests ====================

func TestCreateAction_DuplicateName(t *testing.T) {
	svc := newTestService(t, nil)
	createConsoleLog(t, svc)

	err := svc.CreateAction(context.Background(), &models.Action{Name: "console-log"})
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Messages("name"))
}

func TestCreateAction_SchemaMustBeObject(t *testing.T) {
	svc := newTestService(t, nil)
	err := svc.CreateAction(context.Background(), &models.Action{Name: "x", ArgumentsSchema: json.RawMessage(`[1]`)})
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Messages("arguments_schema"))
}
