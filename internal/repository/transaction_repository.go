package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/Minimalist03/fediversaopuzzle/internal/models"
)

// TransactionRepository is an append-only payment ledger.
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Insert(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return tx, nil
}

// ListByUser returns the user's transactions, newest first.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID string) ([]models.Transaction, error) {
	var txs []models.Transaction
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}
