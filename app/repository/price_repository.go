package repository

import (
	"github.com/ManuelReschke/billingsync/app/models"
	"gorm.io/gorm"
)

type priceRepository struct {
	db *gorm.DB
}

// NewPriceRepository creates a new price repository instance
func NewPriceRepository(db *gorm.DB) PriceRepository {
	return &priceRepository{db: db}
}

func (r *priceRepository) CreateProduct(product *models.Product) error {
	return r.db.Create(product).Error
}

func (r *priceRepository) Create(price *models.Price) error {
	return r.db.Create(price).Error
}

// GetByID retrieves a price together with its product
func (r *priceRepository) GetByID(id uint) (*models.Price, error) {
	var price models.Price
	if err := r.db.Preload("Product").First(&price, id).Error; err != nil {
		return nil, err
	}
	return &price, nil
}

// GetByProviderPriceID finds the active price a provider references.
func (r *priceRepository) GetByProviderPriceID(provider, providerPriceID string) (*models.Price, error) {
	var price models.Price
	err := r.db.Where("provider = ? AND provider_price_id = ? AND is_active = ?", provider, providerPriceID, true).
		Order("id DESC").First(&price).Error
	if err != nil {
		return nil, err
	}
	return &price, nil
}

// Deactivate flips is_active off. It is the only mutation a price allows.
func (r *priceRepository) Deactivate(id uint) error {
	return r.db.Model(&models.Price{}).Where("id = ?", id).Update("is_active", false).Error
}
