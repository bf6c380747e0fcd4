package repository

import (
	"github.com/ManuelReschke/billingsync/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// CreateIfNotExists inserts the payment unless its provider payment ID is
// already stored. A conflict is reported as created=false, not as an error.
func (r *paymentRepository) CreateIfNotExists(payment *models.Payment) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider_payment_id"},
		},
		DoNothing: true,
	}).Create(payment)
	if tx.Error != nil {
		return false, tx.Error
	}
	created := tx.RowsAffected > 0

	// Locking read: a plain SELECT would reuse the transaction snapshot and
	// miss a row committed by a concurrent delivery.
	var stored models.Payment
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("provider_payment_id = ?", payment.ProviderPaymentID).First(&stored).Error; err != nil {
		return false, err
	}
	*payment = stored
	return created, nil
}

func (r *paymentRepository) Update(payment *models.Payment) error {
	return r.db.Save(payment).Error
}

func (r *paymentRepository) GetByProviderPaymentID(providerPaymentID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.Where("provider_payment_id = ?", providerPaymentID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) ListByCustomer(customerID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.Where("customer_id = ?", customerID).Order("id ASC").Find(&payments).Error
	return payments, err
}
