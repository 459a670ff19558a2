package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	serverReady   = "ready"
	serverBusy    = "busy"
	serverUnknown = "unknown"
)

// HealthHandler reports load against capacity. It needs no authentication.
type HealthHandler struct {
	jobs    Jobs
	started time.Time
	warmup  time.Duration
	now     func() time.Time
}

func (h *HealthHandler) Register(g *echo.Group) {
	g.GET("/health", h.health)
}

// health
//
//	@Summary	Service health
//	@Tags		ops
//	@Produce	json
//	@Success	200	{object}	HealthResponse
//	@Router		/health [get]
func (h *HealthHandler) health(c echo.Context) error {
	resp := HealthResponse{
		Status:       "ok",
		ServerStatus: serverUnknown,
		IsWarmingUp:  h.now().Sub(h.started) < h.warmup,
	}
	if h.jobs != nil {
		resp.CurrentLoad = h.jobs.Load()
		resp.MaxCapacity = h.jobs.Capacity()
		if resp.MaxCapacity > 0 {
			resp.ServerStatus = serverReady
			if resp.CurrentLoad >= resp.MaxCapacity {
				resp.ServerStatus = serverBusy
			}
		}
	}
	return c.JSON(http.StatusOK, resp)
}
