package repository

import (
	"errors"

	"github.com/ManuelReschke/billingsync/app/models"
	"gorm.io/gorm"
)

type invoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository creates a new invoice repository instance
func NewInvoiceRepository(db *gorm.DB) InvoiceRepository {
	return &invoiceRepository{db: db}
}

// Upsert creates the invoice or overwrites the row with the same provider
// invoice ID. The lookup runs inside the caller's transaction.
func (r *invoiceRepository) Upsert(invoice *models.Invoice) error {
	var existing models.Invoice
	err := r.db.Where("provider_invoice_id = ?", invoice.ProviderInvoiceID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.Create(invoice).Error
	}
	if err != nil {
		return err
	}

	invoice.ID = existing.ID
	invoice.CreatedAt = existing.CreatedAt
	return r.db.Save(invoice).Error
}

func (r *invoiceRepository) GetByProviderInvoiceID(providerInvoiceID string) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.Where("provider_invoice_id = ?", providerInvoiceID).First(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}
