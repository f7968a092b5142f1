package models

import "time"

// Recipe is the logical unit of delivery. Its content lives in revisions;
// the recipe itself only points at the latest and the approved one.
type Recipe struct {
	ID                 int64      `json:"id"`
	LatestRevisionID   string     `json:"latest_revision_id,omitempty"`
	ApprovedRevisionID string     `json:"approved_revision_id,omitempty"`
	Signature          *Signature `json:"signature,omitempty"`
	Created            time.Time  `json:"created"`
}

// State returns the revision pointers of r.
func (r *Recipe) State() RecipeState {
	return RecipeState{LatestRevisionID: r.LatestRevisionID, ApprovedRevisionID: r.ApprovedRevisionID}
}

// SetState replaces the revision pointers of r.
func (r *Recipe) SetState(s RecipeState) {
	r.LatestRevisionID = s.LatestRevisionID
	r.ApprovedRevisionID = s.ApprovedRevisionID
}

// IsApproved reports whether r has an approved revision.
func (r *Recipe) IsApproved() bool {
	return r.ApprovedRevisionID != ""
}

// RecipeState is the pair of revision pointers a recipe carries. Transitions
// return a new value and never mutate the receiver.
type RecipeState struct {
	LatestRevisionID   string
	ApprovedRevisionID string
}

// Revise points the latest revision at revisionID.
func (s RecipeState) Revise(revisionID string) RecipeState {
	s.LatestRevisionID = revisionID
	return s
}

// Approve points the approved revision at revisionID.
func (s RecipeState) Approve(revisionID string) RecipeState {
	s.ApprovedRevisionID = revisionID
	return s
}

// Enable checks that the approved revision may be enabled given its
// current enabled state, which may be nil.
func (s RecipeState) Enable(current *EnabledState) error {
	if s.ApprovedRevisionID == "" {
		return ErrNotApproved
	}
	if current != nil && current.Enabled {
		return errAlreadyEnabled
	}
	return nil
}

// Disable is the mirror of Enable.
func (s RecipeState) Disable(current *EnabledState) error {
	if s.ApprovedRevisionID == "" {
		return errDisableNotApproved
	}
	if current == nil || !current.Enabled {
		return errAlreadyDisabled
	}
	return nil
}

// Signature is a content signature attached to a recipe or action.
type Signature struct {
	Signature string    `json:"signature"`
	Timestamp time.Time `json:"timestamp"`
	PublicKey string    `json:"public_key"`
	X5U       string    `json:"x5u,omitempty"`
}

// Equal reports whether two signatures are identical. Nil equals nil.
func (s *Signature) Equal(other *Signature) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.Signature == other.Signature &&
		s.Timestamp.Equal(other.Timestamp) &&
		s.PublicKey == other.PublicKey &&
		s.X5U == other.X5U
}

// Recipe fields tracked for dirty checking.
const (
	FieldLatestRevision   = "latest_revision_id"
	FieldApprovedRevision = "approved_revision_id"
	FieldSignature        = "signature"
)

// DirtyFields lists the fields that differ between old and updated.
func DirtyFields(old, updated *Recipe) []string {
	var dirty []string
	if old.LatestRevisionID != updated.LatestRevisionID {
		dirty = append(dirty, FieldLatestRevision)
	}
	if old.ApprovedRevisionID != updated.ApprovedRevisionID {
		dirty = append(dirty, FieldApprovedRevision)
	}
	if !old.Signature.Equal(updated.Signature) {
		dirty = append(dirty, FieldSignature)
	}
	return dirty
}

// CheckSignatureCoupling enforces that a signature always matches the
// content it was made for. A new signature may only be saved when nothing
// else changes, and a kept signature forbids any other change. Clearing the
// signature is allowed together with other changes.
func CheckSignatureCoupling(old, updated *Recipe) error {
	dirty := DirtyFields(old, updated)
	signatureDirty := false
	othersDirty := false
	for _, f := range dirty {
		if f == FieldSignature {
			signatureDirty = true
		} else {
			othersDirty = true
		}
	}

	switch {
	case updated.Signature == nil || !othersDirty:
		return nil
	case signatureDirty:
		return ErrSignatureMustChangeAlone
	default:
		return ErrStaleSignature
	}
}
