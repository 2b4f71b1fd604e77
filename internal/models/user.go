package models

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
	RoleOwner = "owner"
)

type User struct {
	ID          string    `json:"id" example:"6f1c8e0a-0b4a-4a7e-9a51-3f2b8c1d9e77"` // User ID
	Email       string    `json:"email" example:"user@example.com"`                  // User email
	DisplayName string    `json:"display_name" example:"John Doe"`                   // Display name
	Role        string    `json:"role" example:"user"`                               // user, admin or owner
	CreatedAt   time.Time `json:"created_at"`
}

// IsAdminRole reports whether a role grants access to admin endpoints.
func IsAdminRole(role string) bool {
	return role == RoleAdmin || role == RoleOwner
}
