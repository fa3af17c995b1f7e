package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"omo-laundry-agent/config"
	"omo-laundry-agent/internal/coordinator"
	"omo-laundry-agent/internal/mw"
	"omo-laundry-agent/internal/store"
)

// NewRouter creates and configures a new Gin router over the coordinator's
// read model and write path.
func NewRouter(coord *coordinator.Coordinator, s store.Store, webpushOptions *webpush.Options, cfg *config.ServerConfig) *gin.Engine {
	r := gin.Default()
	handler := NewHandler(coord, s, webpushOptions)

	limit := rate.Limit(10)
	if cfg.RateLimitPerSec > 0 {
		limit = rate.Limit(cfg.RateLimitPerSec)
	}
	rateLimiter := mw.RateLimiter(limit, 5, cfg.RequestIPHeader)

	// Read responses change every poll, so the cache TTL stays short.
	ttl := 5 * time.Second
	if cfg.CacheTTLSeconds > 0 {
		ttl = time.Duration(cfg.CacheTTLSeconds) * time.Second
	}
	caching := mw.Cache(cache.New(ttl, 10*ttl), ttl)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/machines", caching, handler.GetMachines)
		api.GET("/machines/:machine_id", caching, handler.GetMachine)
		api.GET("/status", handler.GetStatus)

		api.POST("/machines/:machine_id/start", handler.StartMachine)
		api.POST("/machines/:machine_id/unlock", handler.UnlockMachine)
		api.POST("/refresh", handler.RequestRefresh)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
