package models

import "time"

// ApprovalStatus is the review state of a revision.
type ApprovalStatus string

const (
	StatusNoRequest ApprovalStatus = ""
	StatusPending   ApprovalStatus = "pending"
	StatusApproved  ApprovalStatus = "approved"
	StatusRejected  ApprovalStatus = "rejected"
)

// ApprovalRequest is the peer review of a single revision. Approved is nil
// while the request is pending.
type ApprovalRequest struct {
	ID         int64     `json:"id"`
	RevisionID string    `json:"revision_id"`
	Created    time.Time `json:"created"`
	Creator    string    `json:"creator"`
	Approver   string    `json:"approver,omitempty"`
	Approved   *bool     `json:"approved"`
	Comment    string    `json:"comment,omitempty"`
}

// Status returns the review state of the request. A nil request means no
// request exists.
func (r *ApprovalRequest) Status() ApprovalStatus {
	switch {
	case r == nil:
		return StatusNoRequest
	case r.Approved == nil:
		return StatusPending
	case *r.Approved:
		return StatusApproved
	default:
		return StatusRejected
	}
}

// Approve returns the request marked approved by approver.
func (r ApprovalRequest) Approve(approver, comment string) (ApprovalRequest, error) {
	return r.decide(approver, comment, true)
}

// Reject returns the request marked rejected by approver.
func (r ApprovalRequest) Reject(approver, comment string) (ApprovalRequest, error) {
	return r.decide(approver, comment, false)
}

func (r ApprovalRequest) decide(approver, comment string, approved bool) (ApprovalRequest, error) {
	if r.Approved != nil {
		return r, ErrNotActionable
	}
	if approver == r.Creator {
		return r, ErrCannotActOnOwnRequest
	}
	r.Approved = &approved
	r.Approver = approver
	r.Comment = comment
	return r, nil
}

// CanRequestApproval checks that a new request may be opened given the
// existing one, which may be nil.
func CanRequestApproval(existing *ApprovalRequest) error {
	if existing != nil {
		return ErrAlreadyHasRequest
	}
	return nil
}
