package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type startMachineRequest struct {
	CardID string `json:"card_id"`
}

// StartMachine handles POST /api/machines/:machine_id/start. The body may
// override the configured payment card. A logical payment failure comes
// back as 402 with the result attached; "charged but unlock failed" is
// still a 202 with a warning, because the corrective action differs.
func (h *Handler) StartMachine(c *gin.Context) {
	machineID := c.Param("machine_id")

	var req startMachineRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	result, err := h.coord.PayAndStart(c.Request.Context(), machineID, req.CardID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	if !result.Success {
		c.JSON(http.StatusPaymentRequired, result)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

type unlockMachineRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

// UnlockMachine handles POST /api/machines/:machine_id/unlock for orders
// that were paid but not started.
func (h *Handler) UnlockMachine(c *gin.Context) {
	machineID := c.Param("machine_id")

	var req unlockMachineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.coord.Unlock(c.Request.Context(), machineID, req.OrderID); err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

// RequestRefresh handles POST /api/refresh: an out-of-cycle poll request.
func (h *Handler) RequestRefresh(c *gin.Context) {
	h.coord.RequestRefresh()
	c.Status(http.StatusAccepted)
}
