package service

import (
	"context"
	"errors"
	"sync"

	"boxoffice/backend/internal/domain"
)

// Return authorization is a per-till two-state workflow: a return
// selection is staged, then executed only once a privileged credential
// confirms it. The staging never holds any store lock; the human-paced
// confirmation happens entirely outside the ledger.

var (
	ErrEmptySelection  = errors.New("select at least one sale or check to return")
	ErrNoReturnPending = errors.New("no return awaiting confirmation")
	ErrReturnRejected  = errors.New("return requires the admin role")
)

const (
	ReturnStateIdle     = "idle"
	ReturnStateAwaiting = "awaiting_confirmation"
)

type returnWorkflow struct {
	saleIDs  []int64
	checkIDs []int64
}

type returnRegistry struct {
	mu    sync.Mutex
	byTID map[string]*returnWorkflow
}

func newReturnRegistry() *returnRegistry {
	return &returnRegistry{byTID: make(map[string]*returnWorkflow)}
}

// RequestReturn stages a selection for the till and reports whether the
// till is now awaiting confirmation. Triggering again while already
// awaiting cancels the staged selection instead (a toggle, mirroring the
// confirmation window being dismissed and reopened).
func (s *Service) RequestReturn(terminalID string, saleIDs []int64, checkIDs []int64) (bool, error) {
	s.returns.mu.Lock()
	defer s.returns.mu.Unlock()

	if _, awaiting := s.returns.byTID[terminalID]; awaiting {
		delete(s.returns.byTID, terminalID)
		return false, nil
	}
	if len(saleIDs) == 0 && len(checkIDs) == 0 {
		return false, ErrEmptySelection
	}
	s.returns.byTID[terminalID] = &returnWorkflow{
		saleIDs:  append([]int64(nil), saleIDs...),
		checkIDs: append([]int64(nil), checkIDs...),
	}
	return true, nil
}

// ConfirmReturn executes the till's staged selection if role matches the
// privileged role. Any other role, including a failed credential lookup
// upstream, leaves the selection staged and reports a rejection.
func (s *Service) ConfirmReturn(ctx context.Context, terminalID string, role string) (domain.BulkReturnResult, error) {
	s.returns.mu.Lock()
	wf, awaiting := s.returns.byTID[terminalID]
	if !awaiting {
		s.returns.mu.Unlock()
		return domain.BulkReturnResult{}, ErrNoReturnPending
	}
	if role != s.privilegedRole {
		s.returns.mu.Unlock()
		return domain.BulkReturnResult{}, ErrReturnRejected
	}
	delete(s.returns.byTID, terminalID)
	s.returns.mu.Unlock()

	return s.BulkReturn(ctx, wf.saleIDs, wf.checkIDs)
}

// CancelReturn drops any staged selection for the till.
func (s *Service) CancelReturn(terminalID string) {
	s.returns.mu.Lock()
	defer s.returns.mu.Unlock()
	delete(s.returns.byTID, terminalID)
}

// ReturnState reports the till's workflow state.
func (s *Service) ReturnState(terminalID string) string {
	s.returns.mu.Lock()
	defer s.returns.mu.Unlock()
	if _, awaiting := s.returns.byTID[terminalID]; awaiting {
		return ReturnStateAwaiting
	}
	return ReturnStateIdle
}
