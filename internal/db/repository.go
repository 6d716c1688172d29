package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sidrisov/payflow/internal/models"
)

// ErrStaleUpdate is returned when a versioned update lost the race: the row
// was modified after the caller read it.
var ErrStaleUpdate = errors.New("stale update: payment version changed")

// ErrJobAlreadyFinished is returned when a job terminal transition is
// attempted twice.
var ErrJobAlreadyFinished = errors.New("bot job already left CREATED")

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// PaymentRepository provides payment ledger operations
type PaymentRepository struct {
	*Repository
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(repo *Repository) *PaymentRepository {
	return &PaymentRepository{Repository: repo}
}

// Create inserts a new payment record
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.CreatedDate.IsZero() {
		payment.CreatedDate = time.Now().UTC()
	}
	if !payment.HasReceiver() {
		return fmt.Errorf("payment %s has no receiver", payment.ReferenceID)
	}
	return r.db.WithContext(ctx).Create(payment).Error
}

// GetByReferenceID retrieves a payment by its public reference id
func (r *PaymentRepository) GetByReferenceID(ctx context.Context, refID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("reference_id = ?", refID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// GetByHash retrieves a payment by its onchain transaction hash
func (r *PaymentRepository) GetByHash(ctx context.Context, hash string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("hash = ?", hash).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// Update applies the given column updates under optimistic concurrency
// control. The update only succeeds if the row still carries the version the
// caller read; otherwise ErrStaleUpdate is returned and the caller must
// re-read. On success the in-memory version is advanced.
func (r *PaymentRepository) Update(ctx context.Context, payment *models.Payment, updates map[string]interface{}) error {
	updates["version"] = payment.Version + 1

	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND version = ?", payment.ID, payment.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleUpdate
	}

	payment.Version++
	return nil
}

// ExpireStale marks PENDING payments older than the cutoff as EXPIRED.
// EXPIRED is the deletion-equivalent terminal state; rows are never removed.
func (r *PaymentRepository) ExpireStale(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("status = ? AND created_date < ?", models.PaymentStatusPending, before).
		Updates(map[string]interface{}{
			"status":  models.PaymentStatusExpired,
			"version": gorm.Expr("version + 1"),
		})
	return res.RowsAffected, res.Error
}

// BotJobRepository provides bot job queue operations
type BotJobRepository struct {
	*Repository
}

// NewBotJobRepository creates a new bot job repository
func NewBotJobRepository(repo *Repository) *BotJobRepository {
	return &BotJobRepository{Repository: repo}
}

// Ingest inserts a new job unless one already exists for the same cast hash.
// Returns true when a job was created, false on duplicate delivery.
func (r *BotJobRepository) Ingest(ctx context.Context, job *models.BotJob) (bool, error) {
	if job.CreatedDate.IsZero() {
		job.CreatedDate = time.Now().UTC()
	}
	job.Status = models.BotJobStatusCreated

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cast_hash"}},
			DoNothing: true,
		}).
		Create(job)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ClaimNext atomically picks the oldest unclaimed CREATED job and marks it
// claimed. Claims older than staleAfter are considered abandoned and may be
// re-claimed. Returns nil when no job is available.
func (r *BotJobRepository) ClaimNext(ctx context.Context, staleAfter time.Duration) (*models.BotJob, error) {
	var job *models.BotJob

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidate models.BotJob
		cutoff := time.Now().UTC().Add(-staleAfter)

		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND (claimed_date IS NULL OR claimed_date < ?)",
				models.BotJobStatusCreated, cutoff).
			Order("created_date ASC").
			First(&candidate).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		now := time.Now().UTC()
		if err := tx.Model(&candidate).Update("claimed_date", now).Error; err != nil {
			return err
		}
		candidate.ClaimedDate = &now
		job = &candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Finish moves a job out of CREATED into a terminal status. A job leaves
// CREATED exactly once; a second call fails with ErrJobAlreadyFinished.
func (r *BotJobRepository) Finish(ctx context.Context, job *models.BotJob, status models.BotJobStatus) error {
	if status == models.BotJobStatusCreated {
		return fmt.Errorf("cannot finish job %s into CREATED", job.CastHash)
	}

	res := r.db.WithContext(ctx).
		Model(&models.BotJob{}).
		Where("id = ? AND status = ?", job.ID, models.BotJobStatusCreated).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrJobAlreadyFinished
	}

	job.Status = status
	return nil
}

// RetryErrors re-opens up to limit ERROR jobs last attempted before the
// cutoff for another processing round.
func (r *BotJobRepository) RetryErrors(ctx context.Context, before time.Time, limit int) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.BotJob{}).
		Where("id IN (?)", r.db.
			Model(&models.BotJob{}).
			Select("id").
			Where("status = ? AND claimed_date < ?", models.BotJobStatusError, before).
			Order("created_date ASC").
			Limit(limit),
		).
		Updates(map[string]interface{}{
			"status":       models.BotJobStatusCreated,
			"claimed_date": nil,
		})
	return res.RowsAffected, res.Error
}

// ProfileRepository provides profile-related database operations
type ProfileRepository struct {
	*Repository
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(repo *Repository) *ProfileRepository {
	return &ProfileRepository{Repository: repo}
}

// GetByFID retrieves a profile by Farcaster id
func (r *ProfileRepository) GetByFID(ctx context.Context, fid int64) (*models.Profile, error) {
	var profile models.Profile
	if err := r.db.WithContext(ctx).Where("fid = ?", fid).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

// GetByIdentity retrieves a profile by its anchor address
func (r *ProfileRepository) GetByIdentity(ctx context.Context, identity string) (*models.Profile, error) {
	var profile models.Profile
	if err := r.db.WithContext(ctx).Where("identity = ?", identity).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

// Create creates a new profile
func (r *ProfileRepository) Create(ctx context.Context, profile *models.Profile) error {
	if profile.CreatedDate.IsZero() {
		profile.CreatedDate = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(profile).Error
}

// WalletRepository provides wallet-related database operations
type WalletRepository struct {
	*Repository
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(repo *Repository) *WalletRepository {
	return &WalletRepository{Repository: repo}
}

// ForProfileAndNetwork retrieves the payment wallet a profile registered for
// the given network
func (r *WalletRepository) ForProfileAndNetwork(ctx context.Context, profileID, network int64) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).
		Where("profile_id = ? AND network = ? AND NOT disabled", profileID, network).
		First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &wallet, nil
}

// Create creates a new wallet
func (r *WalletRepository) Create(ctx context.Context, wallet *models.Wallet) error {
	if wallet.CreatedDate.IsZero() {
		wallet.CreatedDate = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(wallet).Error
}
