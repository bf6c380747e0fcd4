package repository

import (
	"github.com/ManuelReschke/billingsync/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create creates a new user in the database
func (r *userRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	err := r.db.Preload("Roles").First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail retrieves a user by their email address
func (r *userRepository) GetByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

type userRoleRepository struct {
	db *gorm.DB
}

// NewUserRoleRepository creates a new user role repository instance
func NewUserRoleRepository(db *gorm.DB) UserRoleRepository {
	return &userRoleRepository{db: db}
}

// Grant inserts the role unless the user already holds it. The returned bool
// is true when a row was written.
func (r *userRoleRepository) Grant(userID uint, role string) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "role"},
		},
		DoNothing: true,
	}).Create(&models.UserRole{UserID: userID, Role: role})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *userRoleRepository) Revoke(userID uint, role string) (bool, error) {
	tx := r.db.Where("user_id = ? AND role = ?", userID, role).Delete(&models.UserRole{})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *userRoleRepository) Has(userID uint, role string) (bool, error) {
	var count int64
	err := r.db.Model(&models.UserRole{}).Where("user_id = ? AND role = ?", userID, role).Count(&count).Error
	return count > 0, err
}
