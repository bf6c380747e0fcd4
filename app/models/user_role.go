package models

import "time"

// RoleSubscriber is granted while a user holds an entitling subscription.
const RoleSubscriber = "subscriber"

type UserRole struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index:ux_user_roles_user_role,unique,priority:1" json:"user_id"`
	Role      string    `gorm:"type:varchar(50);not null;index:ux_user_roles_user_role,unique,priority:2" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
