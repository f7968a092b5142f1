package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==================== State Error Tests ====================

func TestStateError_Is(t *testing.T) {
	assert.ErrorIs(t, ErrNotActionable, ErrStateViolation)
	assert.ErrorIs(t, errAlreadyEnabled, ErrNotActionable)
	assert.NotErrorIs(t, errAlreadyEnabled, ErrNotApproved)
	assert.NotErrorIs(t, errors.New("plain"), ErrStateViolation)

	wrapped := errors.Join(errors.New("context"), ErrCannotActOnOwnRequest)
	assert.ErrorIs(t, wrapped, ErrCannotActOnOwnRequest)
}

// ==================== Approval Request Tests ====================

func TestApprovalRequest_SelfApprovalForbidden(t *testing.T) {
	for _, user := range []string{"alice", "bob", ""} {
		req := ApprovalRequest{ID: 1, RevisionID: "rev", Creator: user}

		_, err := req.Approve(user, "lgtm")
		assert.ErrorIs(t, err, ErrCannotActOnOwnRequest)

		_, err = req.Reject(user, "nope")
		assert.ErrorIs(t, err, ErrCannotActOnOwnRequest)
	}
}

func TestApprovalRequest_Approve(t *testing.T) {
	req := ApprovalRequest{ID: 1, RevisionID: "rev", Creator: "alice"}
	assert.Equal(t, StatusPending, req.Status())

	approved, err := req.Approve("bob", "lgtm")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status())
	assert.Equal(t, "bob", approved.Approver)
	assert.Equal(t, "lgtm", approved.Comment)

	// Original value is untouched.
	assert.Nil(t, req.Approved)
}

func TestApprovalRequest_TerminalStatesNotActionable(t *testing.T) {
	req := ApprovalRequest{ID: 1, RevisionID: "rev", Creator: "alice"}

	rejected, err := req.Reject("bob", "needs work")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status())

	_, err = rejected.Approve("carol", "")
	assert.ErrorIs(t, err, ErrNotActionable)
	_, err = rejected.Reject("carol", "")
	assert.ErrorIs(t, err, ErrNotActionable)

	approved, err := req.Approve("bob", "")
	require.NoError(t, err)
	_, err = approved.Approve("carol", "")
	assert.ErrorIs(t, err, ErrNotActionable)
}

func TestApprovalRequest_NilStatus(t *testing.T) {
	var req *ApprovalRequest
	assert.Equal(t, StatusNoRequest, req.Status())
	assert.NoError(t, CanRequestApproval(nil))
	assert.ErrorIs(t, CanRequestApproval(&ApprovalRequest{}), ErrAlreadyHasRequest)
}

// ==================== Recipe State Tests ====================

func TestRecipeState_EnableRequiresApproval(t *testing.T) {
	s := RecipeState{LatestRevisionID: "a"}
	err := s.Enable(nil)
	require.ErrorIs(t, err, ErrNotApproved)
	assert.Equal(t, "Cannot enable a recipe that is not approved.", err.Error())
}

func TestRecipeState_EnableDisable(t *testing.T) {
	s := RecipeState{}.Revise("a").Approve("a")
	assert.Equal(t, "a", s.ApprovedRevisionID)

	assert.NoError(t, s.Enable(nil))
	assert.NoError(t, s.Enable(&EnabledState{Enabled: false}))

	err := s.Enable(&EnabledState{Enabled: true})
	assert.ErrorIs(t, err, ErrNotActionable)
	assert.Equal(t, "This revision is already enabled.", err.Error())

	err = s.Disable(nil)
	assert.ErrorIs(t, err, ErrNotActionable)
	assert.Equal(t, "This revision is already disabled.", err.Error())
	assert.NoError(t, s.Disable(&EnabledState{Enabled: true}))
}

func TestRecipeState_TransitionsDoNotMutate(t *testing.T) {
	s := RecipeState{LatestRevisionID: "a", ApprovedRevisionID: "a"}
	next := s.Revise("b")
	assert.Equal(t, "a", s.LatestRevisionID)
	assert.Equal(t, "b", next.LatestRevisionID)
	assert.Equal(t, "a", next.ApprovedRevisionID)
}

// ==================== Signature Coupling Tests ====================

func signedRecipe() *Recipe {
	return &Recipe{
		ID:                 1,
		LatestRevisionID:   "a",
		ApprovedRevisionID: "a",
		Signature:          &Signature{Signature: "sig", Timestamp: time.Unix(100, 0), PublicKey: "pk"},
	}
}

func TestCheckSignatureCoupling_OtherFieldChangeFails(t *testing.T) {
	old := signedRecipe()

	updated := *old
	updated.ApprovedRevisionID = "b"
	assert.ErrorIs(t, CheckSignatureCoupling(old, &updated), ErrStaleSignature)

	updated = *old
	updated.LatestRevisionID = "b"
	assert.ErrorIs(t, CheckSignatureCoupling(old, &updated), ErrStaleSignature)
}

func TestCheckSignatureCoupling_SignatureAlone(t *testing.T) {
	old := signedRecipe()
	updated := *old
	updated.Signature = &Signature{Signature: "new", Timestamp: time.Unix(200, 0), PublicKey: "pk"}
	assert.NoError(t, CheckSignatureCoupling(old, &updated))
	assert.Equal(t, []string{FieldSignature}, DirtyFields(old, &updated))
}

func TestCheckSignatureCoupling_SignatureWithContent(t *testing.T) {
	old := signedRecipe()
	updated := *old
	updated.Signature = &Signature{Signature: "new"}
	updated.ApprovedRevisionID = "b"
	assert.ErrorIs(t, CheckSignatureCoupling(old, &updated), ErrSignatureMustChangeAlone)
}

func TestCheckSignatureCoupling_ClearingWithContent(t *testing.T) {
	old := signedRecipe()
	updated := *old
	updated.Signature = nil
	updated.ApprovedRevisionID = "b"
	assert.NoError(t, CheckSignatureCoupling(old, &updated))
}

func TestCheckSignatureCoupling_Unsigned(t *testing.T) {
	old := &Recipe{ID: 1, LatestRevisionID: "a"}
	updated := *old
	updated.LatestRevisionID = "b"
	updated.ApprovedRevisionID = "b"
	assert.NoError(t, CheckSignatureCoupling(old, &updated))
}

// ==================== Revision Tests ====================

func TestGenerateRevisionID_Deterministic(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)
	a := GenerateRevisionID(1, ts, "name", 2, []byte(`{"b":1,"a":2}`), "true")
	b := GenerateRevisionID(1, ts, "name", 2, []byte(`{ "a": 2, "b": 1 }`), "true")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c := GenerateRevisionID(1, ts, "other", 2, []byte(`{"a":2,"b":1}`), "true")
	assert.NotEqual(t, a, c)

	d := GenerateRevisionID(1, ts.Add(time.Microsecond), "name", 2, []byte(`{"a":2,"b":1}`), "true")
	assert.NotEqual(t, a, d)
}

func TestRevisionData_Equal(t *testing.T) {
	base := RevisionData{
		Name:         "test",
		ActionID:     1,
		Arguments:    json.RawMessage(`{"a":1,"b":[1,2]}`),
		FilterObject: []json.RawMessage{json.RawMessage(`{"type":"channel","channels":["beta"]}`)},
		Channels:     []string{"beta", "release"},
	}

	same := base
	same.Arguments = json.RawMessage(`{"b": [1, 2], "a": 1}`)
	same.FilterObject = []json.RawMessage{json.RawMessage(`{"channels": ["beta"], "type": "channel"}`)}
	same.Channels = []string{"release", "beta"}
	assert.True(t, base.Equal(same))

	different := base
	different.Arguments = json.RawMessage(`{"a":2,"b":[1,2]}`)
	assert.False(t, base.Equal(different))

	different = base
	different.Channels = []string{"beta"}
	assert.False(t, base.Equal(different))

	different = base
	different.Legacy = &LegacyTargeting{SampleRate: 10}
	assert.False(t, base.Equal(different))
}

func TestRecipeRevision_JSONFlattensData(t *testing.T) {
	rev := RecipeRevision{ID: "abc", RecipeID: 1, RevisionData: RevisionData{Name: "n", ActionID: 3}}
	data, err := json.Marshal(rev)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "n", m["name"])
	assert.EqualValues(t, 3, m["action_id"])
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.FixedZone("x", 3600))
	assert.Equal(t, "2024-05-06T06:08:09.123456Z", FormatTimestamp(ts))
}
