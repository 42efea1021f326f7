package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"intent-backend/internal/models"
	"intent-backend/internal/protocol"

	"gorm.io/gorm"
)

// ProcessedMessageRepository is the replay-protection set for cross-domain
// messages, keyed by content hash.
type ProcessedMessageRepository interface {
	// MarkProcessed records the hash; fails with ErrMessageReplay if it was
	// already recorded.
	MarkProcessed(ctx context.Context, messageHash, direction string) error

	IsProcessed(ctx context.Context, messageHash string) (bool, error)
}

type processedMessageRepository struct {
	db *gorm.DB
}

// NewProcessedMessageRepository creates a new ProcessedMessageRepository instance
func NewProcessedMessageRepository(db *gorm.DB) ProcessedMessageRepository {
	return &processedMessageRepository{db: db}
}

func (r *processedMessageRepository) MarkProcessed(ctx context.Context, messageHash, direction string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.ProcessedMessage
		err := tx.Where("message_hash = ?", messageHash).First(&existing).Error
		if err == nil {
			return protocol.ErrMessageReplay
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(&models.ProcessedMessage{
			MessageHash: messageHash,
			Direction:   direction,
			ProcessedAt: time.Now(),
		}).Error
	})
}

func (r *processedMessageRepository) IsProcessed(ctx context.Context, messageHash string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ProcessedMessage{}).
		Where("message_hash = ?", messageHash).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// BatchRootRepository records the chain of committed batch roots. Each new
// root links back to its predecessor, and exactly one root is flagged as the
// most recent.
type BatchRootRepository interface {
	Record(ctx context.Context, root, previousRoot string, batchIndex uint64, leafCount int) error
	Exists(ctx context.Context, root string) (bool, error)
	Latest(ctx context.Context) (*models.BatchRoot, error)
}

type batchRootRepository struct {
	db *gorm.DB
}

// NewBatchRootRepository creates a new BatchRootRepository instance
func NewBatchRootRepository(db *gorm.DB) BatchRootRepository {
	return &batchRootRepository{db: db}
}

func (r *batchRootRepository) Record(ctx context.Context, root, previousRoot string, batchIndex uint64, leafCount int) error {
	record := &models.BatchRoot{
		ID:           fmt.Sprintf("br_%s_%d", root, time.Now().UnixNano()),
		Root:         root,
		PreviousRoot: previousRoot,
		BatchIndex:   batchIndex,
		LeafCount:    leafCount,
		IsRecentRoot: true,
		CreatedAt:    time.Now(),
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Previous head stops being the recent root
		if err := tx.Model(&models.BatchRoot{}).
			Where("is_recent_root = true").
			Update("is_recent_root", false).Error; err != nil {
			return err
		}
		return tx.Create(record).Error
	})
}

func (r *batchRootRepository) Exists(ctx context.Context, root string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.BatchRoot{}).
		Where("root = ?", root).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *batchRootRepository) Latest(ctx context.Context) (*models.BatchRoot, error) {
	var record models.BatchRoot
	err := r.db.WithContext(ctx).
		Where("is_recent_root = true").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}
