package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// GetMachines handles GET /api/machines: every reconciled machine state
// from the current snapshot.
func (h *Handler) GetMachines(c *gin.Context) {
	snapshot := h.coord.CurrentSnapshot()
	if snapshot == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "no data yet"})
		return
	}

	// Preserve roster order rather than map iteration order.
	states := make([]any, 0, len(snapshot.Machines))
	for _, machine := range snapshot.Laundry.Machines {
		if state, ok := snapshot.Machines[machine.ID]; ok {
			states = append(states, state)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"laundry_id":   snapshot.Laundry.ID,
		"laundry_name": snapshot.Laundry.Name,
		"built_at":     snapshot.BuiltAt,
		"machines":     states,
	})
}

// GetMachine handles GET /api/machines/:machine_id.
func (h *Handler) GetMachine(c *gin.Context) {
	state := h.coord.GetMachineState(c.Param("machine_id"))
	if state == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "machine not found"})
		return
	}
	c.JSON(http.StatusOK, state)
}

// GetStatus handles GET /api/status: the health of the read model itself.
func (h *Handler) GetStatus(c *gin.Context) {
	snapshot := h.coord.CurrentSnapshot()

	resp := gin.H{
		"last_update_succeeded": h.coord.LastUpdateSucceeded(),
	}
	if t := h.coord.LastSuccessAt(); !t.IsZero() {
		resp["last_success_at"] = t.UTC().Format(time.RFC3339)
	}
	if snapshot != nil {
		resp["machines"] = len(snapshot.Machines)
		resp["active_orders"] = len(snapshot.ActiveOrders)
	}

	c.JSON(http.StatusOK, resp)
}
