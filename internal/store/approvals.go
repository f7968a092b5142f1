package store

import (
	"errors"
	"fmt"

	"github.com/kilupskalvis/normandy/internal/models"
)

// CreateApprovalRequest stores a new request and assigns its ID. A revision
// holds at most one request; a second one returns ErrConflict.
func (t *Tx) CreateApprovalRequest(req *models.ApprovalRequest) error {
	idx, err := t.bucket(bucketRevisionApproval)
	if err != nil {
		return err
	}
	if idx.Get([]byte(req.RevisionID)) != nil {
		return fmt.Errorf("approval request for revision %s: %w", req.RevisionID, ErrConflict)
	}

	id, err := t.nextID(bucketApprovalRequests)
	if err != nil {
		return err
	}
	req.ID = id
	if err := t.put(bucketApprovalRequests, itob(id), req); err != nil {
		return err
	}
	return idx.Put([]byte(req.RevisionID), itob(id))
}

// GetApprovalRequest retrieves a request by ID. Returns ErrNotFound if missing.
func (t *Tx) GetApprovalRequest(id int64) (*models.ApprovalRequest, error) {
	req := &models.ApprovalRequest{}
	if err := t.get(bucketApprovalRequests, itob(id), req); err != nil {
		return nil, err
	}
	return req, nil
}

// ApprovalRequestForRevision returns the request attached to a revision.
// Returns (nil, nil) if there is none.
func (t *Tx) ApprovalRequestForRevision(revisionID string) (*models.ApprovalRequest, error) {
	idx, err := t.bucket(bucketRevisionApproval)
	if err != nil {
		return nil, err
	}
	v := idx.Get([]byte(revisionID))
	if v == nil {
		return nil, nil
	}
	req, err := t.GetApprovalRequest(btoi(v))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return req, err
}

// SaveApprovalRequest overwrites an existing request.
func (t *Tx) SaveApprovalRequest(req *models.ApprovalRequest) error {
	if _, err := t.GetApprovalRequest(req.ID); err != nil {
		return err
	}
	return t.put(bucketApprovalRequests, itob(req.ID), req)
}

// DeleteApprovalRequest removes a request and frees its revision for a new one.
func (t *Tx) DeleteApprovalRequest(id int64) error {
	req, err := t.GetApprovalRequest(id)
	if err != nil {
		return err
	}
	b, err := t.bucket(bucketApprovalRequests)
	if err != nil {
		return err
	}
	if err := b.Delete(itob(id)); err != nil {
		return fmt.Errorf("delete approval request: %w", err)
	}
	idx, err := t.bucket(bucketRevisionApproval)
	if err != nil {
		return err
	}
	return idx.Delete([]byte(req.RevisionID))
}

// GetApprovalRequest retrieves a request by ID in its own transaction.
func (s *Store) GetApprovalRequest(id int64) (*models.ApprovalRequest, error) {
	var req *models.ApprovalRequest
	err := s.View(func(tx *Tx) error {
		var err error
		req, err = tx.GetApprovalRequest(id)
		return err
	})
	return req, err
}

// ApprovalRequestForRevision returns the request for a revision, or nil.
func (s *Store) ApprovalRequestForRevision(revisionID string) (*models.ApprovalRequest, error) {
	var req *models.ApprovalRequest
	err := s.View(func(tx *Tx) error {
		var err error
		req, err = tx.ApprovalRequestForRevision(revisionID)
		return err
	})
	return req, err
}
