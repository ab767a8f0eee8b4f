package jobs

import (
	"testing"

	"github.com/installmatch/backend/internal/models"
)

var allStatuses = []models.WorkOrderStatus{
	models.StatusPending, models.StatusAssigned, models.StatusProductPreparing,
	models.StatusProductReady, models.StatusPickupCompleted, models.StatusInProgress,
	models.StatusCompleted, models.StatusCancelled,
}

func TestCanTransition_ExactlyTheLegalEdges(t *testing.T) {
	legal := map[[2]models.WorkOrderStatus]bool{
		{models.StatusPending, models.StatusAssigned}:                true,
		{models.StatusAssigned, models.StatusProductPreparing}:       true,
		{models.StatusProductPreparing, models.StatusProductReady}:   true,
		{models.StatusProductReady, models.StatusPickupCompleted}:    true,
		{models.StatusPickupCompleted, models.StatusInProgress}:      true,
		{models.StatusInProgress, models.StatusCompleted}:            true,
		{models.StatusPending, models.StatusCancelled}:               true,
		{models.StatusAssigned, models.StatusCancelled}:              true,
	}
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := legal[[2]models.WorkOrderStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, from := range []models.WorkOrderStatus{models.StatusCompleted, models.StatusCancelled} {
		if !from.Terminal() {
			t.Errorf("%s not terminal", from)
		}
		for _, to := range allStatuses {
			if CanTransition(from, to) {
				t.Errorf("terminal %s -> %s allowed", from, to)
			}
		}
	}
}
