package repository

import (
	"context"

	"gorm.io/gorm"

	"membership_backend/internal/model"
)

// LedgerRepository appends penalties and reconciliation issues. Neither table
// is ever updated by the service.
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) AppendPenalty(ctx context.Context, penalty *model.Penalty) error {
	return translate(r.db.WithContext(ctx).Create(penalty).Error, "append penalty for client %d", penalty.ClientID)
}

func (r *LedgerRepository) RecordIssue(ctx context.Context, issue *model.ReconciliationIssue) error {
	return translate(r.db.WithContext(ctx).Create(issue).Error, "record %s issue", issue.Operation)
}
