package repository

import (
	"context"
	"errors"
	"time"

	"intent-backend/internal/models"
	"intent-backend/internal/protocol"

	"gorm.io/gorm"
)

// ReceiptRepository is the access-controlled receipt arena. Reads are always
// scoped by owner; nullification is a tombstone, never a physical delete, so
// the arena keeps its append-only audit semantics.
type ReceiptRepository interface {
	Create(ctx context.Context, receipt *models.PositionReceipt) error

	// GetLiveByNonce returns the non-nullified receipt with the given nonce
	// owned by owner.
	GetLiveByNonce(ctx context.Context, owner, nonce string) (*models.PositionReceipt, error)

	// GetLiveByIntentID returns the non-nullified receipt of the intent owned
	// by owner. The nonce changes across refunds; the intent id does not.
	GetLiveByIntentID(ctx context.Context, owner, intentID string) (*models.PositionReceipt, error)

	// Nullify tombstones a receipt. Fails with ErrReceiptNullified if the
	// receipt was already consumed.
	Nullify(ctx context.Context, id string) error

	ListByOwner(ctx context.Context, owner string, includeNullified bool) ([]*models.PositionReceipt, error)
}

type receiptRepository struct {
	db *gorm.DB
}

// NewReceiptRepository creates a new ReceiptRepository instance
func NewReceiptRepository(db *gorm.DB) ReceiptRepository {
	return &receiptRepository{db: db}
}

func (r *receiptRepository) Create(ctx context.Context, receipt *models.PositionReceipt) error {
	return r.db.WithContext(ctx).Create(receipt).Error
}

func (r *receiptRepository) GetLiveByNonce(ctx context.Context, owner, nonce string) (*models.PositionReceipt, error) {
	var receipt models.PositionReceipt
	err := r.db.WithContext(ctx).
		Where("owner = ? AND nonce = ? AND nullified = false", owner, nonce).
		First(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, protocol.ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (r *receiptRepository) GetLiveByIntentID(ctx context.Context, owner, intentID string) (*models.PositionReceipt, error) {
	var receipt models.PositionReceipt
	err := r.db.WithContext(ctx).
		Where("owner = ? AND intent_id = ? AND nullified = false", owner, intentID).
		First(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, protocol.ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (r *receiptRepository) Nullify(ctx context.Context, id string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.PositionReceipt{}).
		Where("id = ? AND nullified = false", id).
		Updates(map[string]interface{}{
			"nullified":    true,
			"nullified_at": &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return protocol.ErrReceiptNullified
	}
	return nil
}

func (r *receiptRepository) ListByOwner(ctx context.Context, owner string, includeNullified bool) ([]*models.PositionReceipt, error) {
	var receipts []*models.PositionReceipt
	query := r.db.WithContext(ctx).Where("owner = ?", owner)
	if !includeNullified {
		query = query.Where("nullified = false")
	}
	err := query.Order("created_at ASC").Find(&receipts).Error
	if err != nil {
		return nil, err
	}
	return receipts, nil
}
