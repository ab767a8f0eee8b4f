package models

import (
	"time"

	"github.com/google/uuid"
)

// Account roles. Sellers fund work orders, contractors perform them and
// admins adjudicate cancellation requests.
const (
	RoleSeller     = "seller"
	RoleContractor = "contractor"
	RoleAdmin      = "admin"
)

// DecidedBySystem marks cancellation requests approved automatically.
const DecidedBySystem = "system"

type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Identity is the verified caller supplied by the authentication layer.
type Identity struct {
	AccountID uuid.UUID
	Role      string
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }
