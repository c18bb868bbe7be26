package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/webble-core/internal/auth"
	"github.com/nerrad567/webble-core/internal/device"
)

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	AdapterState   string `json:"adapter_state"`
	Scanning       bool   `json:"scanning"`
	GrantedDevices int    `json:"granted_devices"`
	Pages          int    `json:"pages"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Status()
	writeJSON(w, http.StatusOK, StatusResponse{
		AdapterState:   st.AdapterState,
		Scanning:       st.Scanning,
		GrantedDevices: st.GrantedDevices,
		Pages:          s.hub.ClientCount(),
	})
}

// grantedDevice is the operator view of a granted device. It carries the
// page-visible description only; the radio identifier is never exposed.
type grantedDevice struct {
	device.Description
	State     device.ConnectionState `json:"state"`
	GrantedAt time.Time              `json:"granted_at"`
}

func newGrantedDevice(d *device.Device) grantedDevice {
	return grantedDevice{
		Description: d.Description(),
		State:       d.State,
		GrantedAt:   d.GrantedAt,
	}
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.engine.Registry().List()
	out := make([]grantedDevice, 0, len(devices))
	for _, d := range devices {
		out = append(out, newGrantedDevice(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

// handleGetDevice looks a granted device up by its external id.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, ok := s.engine.Registry().LookupByExternal(id)
	if !ok {
		writeNotFound(w, "device not granted")
		return
	}
	writeJSON(w, http.StatusOK, newGrantedDevice(d))
}

// createPageRequest is the optional body of POST /api/v1/pages.
type createPageRequest struct {
	Origin string `json:"origin"`
}

// CreatePageResponse carries a freshly issued page token.
type CreatePageResponse struct {
	Token     string `json:"token"`
	PageID    string `json:"page_id"`
	ExpiresIn int    `json:"expires_in"`
}

func (s *Server) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	var req createPageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ttl := s.secCfg.JWT.PageTokenTTL
	token, pageID, err := auth.GeneratePageToken(req.Origin, s.secCfg.JWT.Secret, ttl)
	if err != nil {
		s.logger.Error("issuing page token failed", "error", err)
		writeInternalError(w, "failed to issue page token")
		return
	}
	if ttl <= 0 {
		ttl = int(auth.DefaultPageTokenTTL / time.Minute)
	}

	s.logger.Debug("page token issued", "page_id", pageID, "origin", req.Origin)
	writeJSON(w, http.StatusCreated, CreatePageResponse{
		Token:     token,
		PageID:    pageID,
		ExpiresIn: ttl * 60,
	})
}
