package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/audit"
)

// handleListAuditLogs returns paginated audit entries, newest first.
//
// Query parameters:
//   - action: filter by activity kind (device_online, command_dispatched, ...)
//   - device_id: filter by device
//   - conn_id: filter by connection
//   - since: RFC 3339 time or Unix milliseconds
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeUnavailable(w, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		DeviceID: q.Get("device_id"),
		ConnID:   q.Get("conn_id"),
	}

	if v := q.Get("since"); v != "" {
		since, err := parseSince(v)
		if err != nil {
			writeBadRequest(w, "since must be RFC 3339 or Unix milliseconds")
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func parseSince(v string) (time.Time, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339, v)
}
