package domain

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Identity - результат успешной аутентификации соединения или запроса.
type Identity struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
}

const (
	RoleClient       = "client"
	RoleProfessional = "professional"
	RoleAdmin        = "admin"
	RoleSuperAdmin   = "super_admin"
)

// IsAdministrativeRole - административные роли имеют доступ ко всем беседам.
func IsAdministrativeRole(role string) bool {
	return role == RoleAdmin || role == RoleSuperAdmin
}

func (i Identity) IsAdmin() bool {
	return IsAdministrativeRole(i.Role)
}
