package service

import (
	"context"
	"fmt"

	"github.com/rongwang/timebank-server/internal/models"
)

// Ledger operations. Balances are never stored as mutable state; both reads
// resolve from the append-only entry history.

// GetBalance returns the caller's current balance: the snapshot on their
// newest ledger entry, or zero for an account with no history.
func (s *DefaultService) GetBalance(ctx context.Context, userID string) (*models.BalanceResponse, error) {
	balance, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting balance: %w", err)
	}

	return &models.BalanceResponse{
		Status:  "success",
		UserID:  userID,
		Balance: balance,
	}, nil
}

// GetLedgerHistory returns a newest-first page of the caller's ledger
// entries.
func (s *DefaultService) GetLedgerHistory(ctx context.Context, userID string, skip, limit int) (*models.LedgerHistoryResponse, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	entries, err := s.repo.GetLedgerEntries(ctx, userID, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("error getting ledger entries: %w", err)
	}

	return &models.LedgerHistoryResponse{
		Status:  "success",
		UserID:  userID,
		Entries: entries,
		Skip:    skip,
		Limit:   limit,
	}, nil
}
