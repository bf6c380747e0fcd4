package repository

import (
	"github.com/ManuelReschke/billingsync/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new processed-webhook-event repository instance
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) Exists(provider, providerEventID string) (bool, error) {
	var count int64
	err := r.db.Model(&models.ProcessedWebhookEvent{}).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		Count(&count).Error
	return count > 0, err
}

// CreateIfNotExists inserts the event; a concurrent insert of the same
// (provider, provider_event_id) yields created=false.
func (r *webhookEventRepository) CreateIfNotExists(event *models.ProcessedWebhookEvent) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *webhookEventRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.ProcessedWebhookEvent{}).Count(&count).Error
	return count, err
}
