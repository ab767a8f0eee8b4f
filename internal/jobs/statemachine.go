package jobs

import (
	"github.com/installmatch/backend/internal/models"
)

// predecessor maps each forward status to the only status it may be entered
// from. pending has no predecessor: it is only entered by creation.
var predecessor = map[models.WorkOrderStatus]models.WorkOrderStatus{
	models.StatusAssigned:         models.StatusPending,
	models.StatusProductPreparing: models.StatusAssigned,
	models.StatusProductReady:     models.StatusProductPreparing,
	models.StatusPickupCompleted:  models.StatusProductReady,
	models.StatusInProgress:       models.StatusPickupCompleted,
	models.StatusCompleted:        models.StatusInProgress,
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to models.WorkOrderStatus) bool {
	if to == models.StatusCancelled {
		return Cancellable(from)
	}
	want, ok := predecessor[to]
	return ok && want == from
}

// Cancellable reports whether an order in s may still be cancelled.
func Cancellable(s models.WorkOrderStatus) bool {
	return s == models.StatusPending || s == models.StatusAssigned
}

// Progress statuses are the ones reachable through AdvanceStatus.
func isProgress(s models.WorkOrderStatus) bool {
	switch s {
	case models.StatusProductPreparing, models.StatusProductReady,
		models.StatusPickupCompleted, models.StatusInProgress, models.StatusCompleted:
		return true
	}
	return false
}

// payerMayAdvance lists the progress steps the payer shares with the
// contractor; the rest belong to the contractor alone.
func payerMayAdvance(to models.WorkOrderStatus) bool {
	return to == models.StatusProductPreparing || to == models.StatusProductReady
}
