// Package repository provides data access interfaces and implementations
package repository

import (
	"context"
	"errors"
	"time"

	"intent-backend/internal/models"
	"intent-backend/internal/protocol"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransitionParams describes one atomic state machine step. The repository
// applies the precondition check and the update as a single step, so two
// competing finalizations (confirmation vs. compensation) can never both
// succeed.
type TransitionParams struct {
	From               models.IntentStatus
	To                 models.IntentStatus
	RequireNotConsumed bool
	SetConsumed        bool
	ResetConsumed      bool // opening a new leg (withdraw request) re-arms the guard
	Reason             string
	Updates            map[string]interface{} // extra column updates (shares, withdraw_*)

	// Receipt mutations applied in the same atomic step as the transition. A
	// failing receipt operation fails the whole transition, so an intent is
	// never finalized with a missing or stale receipt.
	NullifyReceiptID string
	CreateReceipt    *models.PositionReceipt
}

// IntentRepository defines the interface for Intent data access
type IntentRepository interface {
	// Create persists a new intent; fails with ErrIntentExists if the id is
	// already present in any state.
	Create(ctx context.Context, intent *models.Intent) error

	GetByID(ctx context.Context, intentID string) (*models.Intent, error)

	// Transition atomically performs "compare current status, then update".
	Transition(ctx context.Context, intentID string, params TransitionParams) (*models.Intent, error)

	// Query methods
	List(ctx context.Context, page, pageSize int) ([]*models.Intent, int64, error)
	ListByOwner(ctx context.Context, owner string) ([]*models.Intent, error)
	ListExpiredPending(ctx context.Context, now uint64) ([]*models.Intent, error)
	ListTransitions(ctx context.Context, intentID string) ([]*models.IntentTransition, error)
}

// intentRepository implements IntentRepository on gorm
type intentRepository struct {
	db *gorm.DB
}

// NewIntentRepository creates a new IntentRepository instance
func NewIntentRepository(db *gorm.DB) IntentRepository {
	return &intentRepository{db: db}
}

func (r *intentRepository) Create(ctx context.Context, intent *models.Intent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Intent
		err := tx.Where("intent_id = ?", intent.IntentID).First(&existing).Error
		if err == nil {
			return protocol.ErrIntentExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.Create(intent).Error; err != nil {
			return err
		}
		return tx.Create(&models.IntentTransition{
			IntentID:   intent.IntentID,
			FromStatus: "",
			ToStatus:   intent.Status,
			Reason:     "created",
			CreatedAt:  time.Now(),
		}).Error
	})
}

func (r *intentRepository) GetByID(ctx context.Context, intentID string) (*models.Intent, error) {
	var intent models.Intent
	err := r.db.WithContext(ctx).Where("intent_id = ?", intentID).First(&intent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, protocol.ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *intentRepository) Transition(ctx context.Context, intentID string, params TransitionParams) (*models.Intent, error) {
	var updated *models.Intent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var intent models.Intent
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("intent_id = ?", intentID).
			First(&intent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return protocol.ErrIntentNotFound
		}
		if err != nil {
			return err
		}

		if err := checkTransition(&intent, params); err != nil {
			return err
		}

		if params.NullifyReceiptID != "" {
			now := time.Now()
			result := tx.Model(&models.PositionReceipt{}).
				Where("id = ? AND nullified = false", params.NullifyReceiptID).
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
		}
		if params.CreateReceipt != nil {
			if err := tx.Create(params.CreateReceipt).Error; err != nil {
				return err
			}
		}

		updates := map[string]interface{}{
			"status": params.To,
		}
		if params.SetConsumed {
			updates["consumed"] = true
		}
		if params.ResetConsumed {
			updates["consumed"] = false
		}
		for k, v := range params.Updates {
			updates[k] = v
		}
		if err := tx.Model(&intent).Updates(updates).Error; err != nil {
			return err
		}

		if err := tx.Create(&models.IntentTransition{
			IntentID:   intentID,
			FromStatus: params.From,
			ToStatus:   params.To,
			Reason:     params.Reason,
			CreatedAt:  time.Now(),
		}).Error; err != nil {
			return err
		}

		updated = &intent
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// checkTransition enforces the precondition ordering shared by both
// repository implementations: a consumed intent always reports "already
// consumed", everything else reports the status mismatch.
func checkTransition(intent *models.Intent, params TransitionParams) error {
	if intent.Status != params.From {
		if intent.Consumed {
			return protocol.ErrAlreadyConsumed
		}
		return protocol.ErrWrongStatus
	}
	if params.RequireNotConsumed && intent.Consumed {
		return protocol.ErrAlreadyConsumed
	}
	if !protocol.CanTransition(params.From, params.To) {
		return protocol.ErrWrongStatus
	}
	return nil
}

func (r *intentRepository) List(ctx context.Context, page, pageSize int) ([]*models.Intent, int64, error) {
	var intents []*models.Intent
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Intent{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * pageSize
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Offset(offset).Limit(pageSize).
		Find(&intents).Error
	if err != nil {
		return nil, 0, err
	}
	return intents, total, nil
}

func (r *intentRepository) ListByOwner(ctx context.Context, owner string) ([]*models.Intent, error) {
	var intents []*models.Intent
	err := r.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("created_at DESC").
		Find(&intents).Error
	if err != nil {
		return nil, err
	}
	return intents, nil
}

func (r *intentRepository) ListExpiredPending(ctx context.Context, now uint64) ([]*models.Intent, error) {
	var intents []*models.Intent
	err := r.db.WithContext(ctx).
		Where("(status = ? AND deadline < ?) OR (status = ? AND withdraw_deadline <= ?)",
			models.IntentStatusPendingDeposit, now,
			models.IntentStatusPendingWithdraw, now).
		Find(&intents).Error
	if err != nil {
		return nil, err
	}
	return intents, nil
}

func (r *intentRepository) ListTransitions(ctx context.Context, intentID string) ([]*models.IntentTransition, error) {
	var transitions []*models.IntentTransition
	err := r.db.WithContext(ctx).
		Where("intent_id = ?", intentID).
		Order("id ASC").
		Find(&transitions).Error
	if err != nil {
		return nil, err
	}
	return transitions, nil
}
