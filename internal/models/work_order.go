package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type WorkOrderStatus string

// Work order statuses. completed and cancelled are terminal.
const (
	StatusPending          WorkOrderStatus = "pending"
	StatusAssigned         WorkOrderStatus = "assigned"
	StatusProductPreparing WorkOrderStatus = "product_preparing"
	StatusProductReady     WorkOrderStatus = "product_ready"
	StatusPickupCompleted  WorkOrderStatus = "pickup_completed"
	StatusInProgress       WorkOrderStatus = "in_progress"
	StatusCompleted        WorkOrderStatus = "completed"
	StatusCancelled        WorkOrderStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s WorkOrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusProductPreparing, StatusProductReady,
		StatusPickupCompleted, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s WorkOrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type WorkOrder struct {
	ID                  string          `json:"id"`
	PayerID             uuid.UUID       `json:"payer_id"`
	ContractorID        *uuid.UUID      `json:"contractor_id,omitempty"`
	Status              WorkOrderStatus `json:"status"`
	IsUrgent            bool            `json:"is_urgent"`
	BudgetAmount        int64           `json:"budget_amount"`
	OriginalWorkOrderID *string         `json:"original_work_order_id,omitempty"`
	Details             json.RawMessage `json:"details,omitempty"`
	AssignedAt          *time.Time      `json:"assigned_at,omitempty"`
	CancelledAt         *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// IsParty reports whether the account is the payer or the assigned contractor.
func (w *WorkOrder) IsParty(accountID uuid.UUID) bool {
	if w.PayerID == accountID {
		return true
	}
	return w.ContractorID != nil && *w.ContractorID == accountID
}

// StatusChange is one recorded transition of a work order.
type StatusChange struct {
	ID          uuid.UUID        `json:"id"`
	WorkOrderID string           `json:"work_order_id"`
	From        *WorkOrderStatus `json:"from,omitempty"`
	To          WorkOrderStatus  `json:"to"`
	ActorID     *uuid.UUID       `json:"actor_id,omitempty"`
	ChangedAt   time.Time        `json:"changed_at"`
}
