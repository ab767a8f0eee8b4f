package models

import (
	"time"

	"github.com/google/uuid"
)

// Cancellation request statuses.
const (
	CancellationPending  = "pending"
	CancellationApproved = "approved"
	CancellationRejected = "rejected"
)

type CancellationRequest struct {
	ID             uuid.UUID  `json:"id"`
	WorkOrderID    string     `json:"work_order_id"`
	ContractorID   uuid.UUID  `json:"contractor_id"`
	Reason         string     `json:"reason"`
	AdditionalInfo string     `json:"additional_info,omitempty"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	DecidedAt      *time.Time `json:"decided_at,omitempty"`
	DecidedBy      *string    `json:"decided_by,omitempty"`
}
