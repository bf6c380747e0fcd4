package repository

import (
	"github.com/ManuelReschke/billingsync/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type customerRepository struct {
	db *gorm.DB
}

// NewCustomerRepository creates a new customer repository instance
func NewCustomerRepository(db *gorm.DB) CustomerRepository {
	return &customerRepository{db: db}
}

func (r *customerRepository) Create(customer *models.Customer) error {
	return r.db.Create(customer).Error
}

func (r *customerRepository) GetByID(id uint) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.First(&customer, id).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *customerRepository) GetByUserID(userID uint) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.Where("user_id = ?", userID).First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *customerRepository) GetByProviderCustomerID(providerCustomerID string) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.Where("provider_customer_id = ?", providerCustomerID).First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

// UpsertPaymentMethod writes the payment method keyed by its provider ID and
// reloads it so the local ID is populated.
func (r *customerRepository) UpsertPaymentMethod(pm *models.PaymentMethod) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider_payment_method_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"customer_id",
			"type",
			"brand",
			"last4",
			"exp_month",
			"exp_year",
			"updated_at",
		}),
	}).Create(pm).Error; err != nil {
		return err
	}

	var stored models.PaymentMethod
	if err := r.db.Where("provider_payment_method_id = ?", pm.ProviderPaymentMethodID).First(&stored).Error; err != nil {
		return err
	}
	*pm = stored
	return nil
}

func (r *customerRepository) ListPaymentMethods(customerID uint) ([]models.PaymentMethod, error) {
	var methods []models.PaymentMethod
	err := r.db.Where("customer_id = ?", customerID).Order("id ASC").Find(&methods).Error
	return methods, err
}
