package server

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/deeres/internal/jobs"
	"go.uber.org/zap"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 20 * time.Second
	writeWait  = 10 * time.Second
)

// StreamHandler pushes job snapshots over a websocket until the job ends.
type StreamHandler struct {
	jobs     Jobs
	interval time.Duration
	origins  []string
	logger   *zap.Logger
}

func (h *StreamHandler) Register(g *echo.Group) {
	g.GET("/job-status/:job_id/stream", h.stream)
}

func (h *StreamHandler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(h.origins) == 0 {
				return true
			}
			return slices.Contains(h.origins, "*") || slices.Contains(h.origins, origin)
		},
	}
}

// stream sends the current snapshot, then every change, and closes after a
// terminal status or when the job is reaped.
func (h *StreamHandler) stream(c echo.Context) error {
	id := c.Param("job_id")
	job, err := h.jobs.Status(id)
	if errors.Is(err, jobs.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Job with ID %s not found", id))
	}
	if err != nil {
		return err
	}

	up := h.upgrader()
	conn, err := up.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return nil
	}
	defer conn.Close()
	log := h.logger.With(zap.String("job_id", id))

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.write(conn, job); err != nil {
		return nil
	}
	if job.Terminal() {
		h.close(conn, "job finished")
		return nil
	}

	poll := time.NewTicker(h.interval)
	defer poll.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	last := job
	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case <-closed:
			return nil
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		case <-poll.C:
			cur, err := h.jobs.Status(id)
			if err != nil {
				log.Debug("job vanished while streaming", zap.Error(err))
				h.close(conn, "job expired")
				return nil
			}
			if changed(last, cur) {
				if err := h.write(conn, cur); err != nil {
					return nil
				}
				last = cur
			}
			if cur.Terminal() {
				h.close(conn, "job finished")
				return nil
			}
		}
	}
}

func (h *StreamHandler) write(conn *websocket.Conn, job jobs.Job) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(job)
}

func (h *StreamHandler) close(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func changed(a, b jobs.Job) bool {
	return a.Status != b.Status || a.Progress != b.Progress || a.Message != b.Message
}
