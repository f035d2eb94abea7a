package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// DeviceStatus is the presence of one device as reported by the REST API.
type DeviceStatus struct {
	DeviceID string `json:"device_id"`
	Online   bool   `json:"online"`
	ConnID   string `json:"conn_id,omitempty"`
}

// handleListDevices returns the online device list, the same snapshot web
// clients receive on sys:device_list.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.broker.Snapshot())
}

// handleGetDevice reports whether one device is online and on which connection.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	connID, ok := s.broker.Registry().ResolveDevice(id)
	if !ok {
		writeNotFound(w, "device not online")
		return
	}

	writeJSON(w, http.StatusOK, DeviceStatus{
		DeviceID: id,
		Online:   true,
		ConnID:   connID,
	})
}
