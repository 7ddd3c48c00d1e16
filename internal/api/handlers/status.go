package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rohanbalixz/clad-pv/internal/api/models"
	"github.com/rohanbalixz/clad-pv/internal/registers"
	"github.com/rohanbalixz/clad-pv/internal/transport"
)

// StatusHandler serves a read-only view of the register image. It never
// reports the control setpoint; readers see only what a Modbus client sees.
type StatusHandler struct {
	image    *registers.Image
	identity transport.Identity
}

func NewStatusHandler(image *registers.Image, identity transport.Identity) *StatusHandler {
	return &StatusHandler{image: image, identity: identity}
}

// Status handles GET /api/v1/status
func (h *StatusHandler) Status(c *gin.Context) {
	snap := h.image.Snapshot()
	regs := make([]models.RegisterValue, 0, registers.HoldingCount)
	for _, slot := range registers.Map {
		raw := snap.Holding[slot.Index]
		regs = append(regs, models.RegisterValue{
			Addr:  slot.Index,
			Name:  slot.Name,
			Unit:  slot.Unit,
			Raw:   raw,
			Value: slot.Decode(raw),
		})
	}
	c.JSON(http.StatusOK, models.StatusResponse{
		Heartbeat: snap.Input[registers.HeartbeatAddr],
		Tick:      snap.Tick,
		Writable:  h.image.Writable(),
		Registers: regs,
		Identity: map[string]string{
			"vendor":  h.identity.Vendor,
			"product": h.identity.Product,
			"version": h.identity.Version,
		},
	})
}
