package api

import (
	"net/http"

	"github.com/nerrad567/lwaudit/internal/monitor"
)

// handleListDevices returns the status of every configured device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.devices.Devices()

	connected := 0
	for _, d := range devices {
		if d.Status == monitor.StatusConnected {
			connected++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices":   devices,
		"count":     len(devices),
		"connected": connected,
	})
}
