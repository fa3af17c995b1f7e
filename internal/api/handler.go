package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"omo-laundry-agent/internal/coordinator"
	"omo-laundry-agent/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	coord   *coordinator.Coordinator
	store   store.Store
	webpush *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(coord *coordinator.Coordinator, s store.Store, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		coord:   coord,
		store:   s,
		webpush: webpushOptions,
	}
}
