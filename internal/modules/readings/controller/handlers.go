package controller

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/nathancread/Moist-Meat/internal/modules/readings/service"
	"github.com/nathancread/Moist-Meat/internal/modules/readings/stream"
	"github.com/nathancread/Moist-Meat/internal/modules/readings/types"
	"github.com/nathancread/Moist-Meat/internal/modules/readings/views"
	"github.com/nathancread/Moist-Meat/internal/utils"
)

// handleStream relays new readings to the client as server-sent events until
// the client leaves, the feed fails or the session times out.
func (c *readingsControllerImpl) handleStream(w http.ResponseWriter, r *http.Request) {
	since, err := stream.ParseSince(r.URL.Query().Get("since"), c.clock.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	logger := c.logger.With("session", uuid.NewString())
	session := stream.NewSession(since, c.feed, stream.NewHTTPEventWriter(w, c.writeTimeout), stream.Config{
		Timeout:  c.streamTimeout,
		Clock:    c.clock,
		Reporter: c.reporter,
		Logger:   logger,
	})
	if err := session.Run(r.Context()); err != nil {
		logger.Debug("stream session ended with error", "error", err)
	}
}

func (c *readingsControllerImpl) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	q, _, err := parseReadingsQuery(r, c.location)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	status := http.StatusOK
	data := views.DashboardData{Location: q.Location}
	h, err := c.history.History(r.Context(), q)
	if err != nil {
		c.logger.Error("dashboard: load history failed", "error", err)
		status = http.StatusServiceUnavailable
		data.Unavailable = true
	} else {
		data.History = h.Readings
		data.From = h.Window.From
		data.To = h.Window.To
		data.Cursor = h.Cursor
		data.Live = !h.Window.To.Before(c.clock.Now())
		if n := len(h.Readings); n > 0 {
			latest := h.Readings[n-1]
			data.Latest = &latest
		}
	}

	var buf bytes.Buffer
	if err := views.RenderDashboard(&buf, &data); err != nil {
		c.logger.Error("dashboard template render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render page")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		c.logger.Error("dashboard: write response failed", "error", err)
	}
}

func (c *readingsControllerImpl) handleReadings(w http.ResponseWriter, r *http.Request) {
	q, limit, err := parseReadingsQuery(r, c.location)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h, err := c.history.History(r.Context(), q)
	if err != nil {
		c.logger.Error("readings: load history failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load readings")
		return
	}

	items := h.Readings
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	if items == nil {
		items = []types.Reading{}
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"from":   h.Window.From,
		"to":     h.Window.To,
		"cursor": h.Cursor,
		"count":  len(items),
		"items":  items,
	})
}

func (c *readingsControllerImpl) handleLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := c.history.Latest(r.Context())
	if errors.Is(err, service.ErrNoReadings) {
		utils.WriteError(w, http.StatusNotFound, "no readings yet")
		return
	}
	if err != nil {
		c.logger.Error("latest: load failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load readings")
		return
	}
	utils.WriteJSON(w, http.StatusOK, latest)
}
