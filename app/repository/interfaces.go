package repository

import (
	"time"

	"github.com/ManuelReschke/billingsync/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
}

// UserRoleRepository manages role grants. Grant and Revoke are idempotent.
type UserRoleRepository interface {
	Grant(userID uint, role string) (bool, error)
	Revoke(userID uint, role string) (bool, error)
	Has(userID uint, role string) (bool, error)
}

// PriceRepository defines catalog operations. Prices are never updated in place.
type PriceRepository interface {
	CreateProduct(product *models.Product) error
	Create(price *models.Price) error
	GetByID(id uint) (*models.Price, error)
	GetByProviderPriceID(provider, providerPriceID string) (*models.Price, error)
	Deactivate(id uint) error
}

// CustomerRepository defines customer and payment-method persistence
type CustomerRepository interface {
	Create(customer *models.Customer) error
	GetByID(id uint) (*models.Customer, error)
	GetByUserID(userID uint) (*models.Customer, error)
	GetByProviderCustomerID(providerCustomerID string) (*models.Customer, error)
	UpsertPaymentMethod(pm *models.PaymentMethod) error
	ListPaymentMethods(customerID uint) ([]models.PaymentMethod, error)
}

// CheckoutSessionRepository defines checkout session persistence
type CheckoutSessionRepository interface {
	Create(session *models.CheckoutSession) error
	GetByUUID(uuid string) (*models.CheckoutSession, error)
	GetByProviderSessionID(providerSessionID string) (*models.CheckoutSession, error)
	Update(session *models.CheckoutSession) error
	ExpirePending(now time.Time) (int64, error)
	AbandonPending(handedOffBefore time.Time) (int64, error)
}

// SubscriptionRepository defines subscription persistence keyed by the
// provider subscription ID
type SubscriptionRepository interface {
	CreateIfNotExists(sub *models.Subscription) (bool, error)
	GetByID(id uint) (*models.Subscription, error)
	GetByProviderSubscriptionID(providerSubscriptionID string) (*models.Subscription, error)
	ListByCustomer(customerID uint) ([]models.Subscription, error)
	Update(sub *models.Subscription) error
	CountEntitlingByCustomer(customerID uint, excludeSubscriptionID uint) (int64, error)
	HasEntitlingForPrice(customerID, priceID uint) (bool, error)
}

// PaymentRepository defines payment persistence keyed by the provider payment ID
type PaymentRepository interface {
	CreateIfNotExists(payment *models.Payment) (bool, error)
	Update(payment *models.Payment) error
	GetByProviderPaymentID(providerPaymentID string) (*models.Payment, error)
	ListByCustomer(customerID uint) ([]models.Payment, error)
}

// InvoiceRepository defines invoice persistence
type InvoiceRepository interface {
	Upsert(invoice *models.Invoice) error
	GetByProviderInvoiceID(providerInvoiceID string) (*models.Invoice, error)
}

// WebhookEventRepository is the storage behind the idempotency ledger
type WebhookEventRepository interface {
	Exists(provider, providerEventID string) (bool, error)
	CreateIfNotExists(event *models.ProcessedWebhookEvent) (bool, error)
	Count() (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User            UserRepository
	UserRole        UserRoleRepository
	Price           PriceRepository
	Customer        CustomerRepository
	CheckoutSession CheckoutSessionRepository
	Subscription    SubscriptionRepository
	Payment         PaymentRepository
	Invoice         InvoiceRepository
	WebhookEvent    WebhookEventRepository
}

// NewRepositories creates a new instance of all repositories. Passing a
// transaction handle scopes every repository to that transaction.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:            NewUserRepository(db),
		UserRole:        NewUserRoleRepository(db),
		Price:           NewPriceRepository(db),
		Customer:        NewCustomerRepository(db),
		CheckoutSession: NewCheckoutSessionRepository(db),
		Subscription:    NewSubscriptionRepository(db),
		Payment:         NewPaymentRepository(db),
		Invoice:         NewInvoiceRepository(db),
		WebhookEvent:    NewWebhookEventRepository(db),
	}
}
