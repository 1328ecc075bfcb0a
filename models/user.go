package models

import (
	"time"
)

// Roles carried in JWT claims and checked by the admin middleware.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the account record referenced by authenticated donations. Account
// management itself lives in the main NGO backend; this service only reads it.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:100" json:"name"`
	Email     string    `gorm:"size:100;uniqueIndex" json:"email"`
	Role      string    `gorm:"size:20;default:user" json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
