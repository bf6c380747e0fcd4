package repository

import (
	"github.com/ManuelReschke/billingsync/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// CreateIfNotExists inserts sub unless a row with the same provider
// subscription ID exists. Either way sub holds the stored row afterwards.
func (r *subscriptionRepository) CreateIfNotExists(sub *models.Subscription) (bool, error) {
	tx := r.db.Omit("Customer", "Price").Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider_subscription_id"},
		},
		DoNothing: true,
	}).Create(sub)
	if tx.Error != nil {
		return false, tx.Error
	}
	created := tx.RowsAffected > 0

	// Locking read, see paymentRepository.CreateIfNotExists.
	var stored models.Subscription
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("provider_subscription_id = ?", sub.ProviderSubscriptionID).First(&stored).Error; err != nil {
		return false, err
	}
	*sub = stored
	return created, nil
}

func (r *subscriptionRepository) GetByID(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetByProviderSubscriptionID(providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("provider_subscription_id = ?", providerSubscriptionID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) ListByCustomer(customerID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Where("customer_id = ?", customerID).Order("id ASC").Find(&subs).Error
	return subs, err
}

func (r *subscriptionRepository) Update(sub *models.Subscription) error {
	return r.db.Omit("Customer", "Price").Save(sub).Error
}

// CountEntitlingByCustomer counts active or past_due subscriptions of the
// customer, leaving out excludeSubscriptionID.
func (r *subscriptionRepository) CountEntitlingByCustomer(customerID uint, excludeSubscriptionID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Subscription{}).
		Where("customer_id = ? AND id <> ? AND status IN ?", customerID, excludeSubscriptionID, models.EntitlingSubscriptionStatuses).
		Count(&count).Error
	return count, err
}

func (r *subscriptionRepository) HasEntitlingForPrice(customerID, priceID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.Subscription{}).
		Where("customer_id = ? AND price_id = ? AND status IN ?", customerID, priceID, models.EntitlingSubscriptionStatuses).
		Count(&count).Error
	return count > 0, err
}
