package repository

import (
	"time"

	"github.com/ManuelReschke/billingsync/app/models"
	"gorm.io/gorm"
)

type checkoutSessionRepository struct {
	db *gorm.DB
}

// NewCheckoutSessionRepository creates a new checkout session repository instance
func NewCheckoutSessionRepository(db *gorm.DB) CheckoutSessionRepository {
	return &checkoutSessionRepository{db: db}
}

func (r *checkoutSessionRepository) Create(session *models.CheckoutSession) error {
	return r.db.Create(session).Error
}

func (r *checkoutSessionRepository) GetByUUID(uuid string) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	if err := r.db.Preload("Price").Where("uuid = ?", uuid).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *checkoutSessionRepository) GetByProviderSessionID(providerSessionID string) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	if err := r.db.Where("provider_session_id = ?", providerSessionID).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *checkoutSessionRepository) Update(session *models.CheckoutSession) error {
	return r.db.Omit("Price", "Customer").Save(session).Error
}

// ExpirePending marks every pending session whose expiry has passed as expired.
func (r *checkoutSessionRepository) ExpirePending(now time.Time) (int64, error) {
	tx := r.db.Model(&models.CheckoutSession{}).
		Where("status = ? AND expires_at <= ?", models.CheckoutStatusPending, now).
		Update("status", models.CheckoutStatusExpired)
	return tx.RowsAffected, tx.Error
}

// AbandonPending marks pending sessions that were handed to the provider and
// not touched since handedOffBefore as abandoned.
func (r *checkoutSessionRepository) AbandonPending(handedOffBefore time.Time) (int64, error) {
	tx := r.db.Model(&models.CheckoutSession{}).
		Where("status = ? AND provider_session_id <> '' AND updated_at <= ?", models.CheckoutStatusPending, handedOffBefore).
		Update("status", models.CheckoutStatusAbandoned)
	return tx.RowsAffected, tx.Error
}
