package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/lwaudit/internal/audit"
)

// maxQueryParamLen caps free-text query parameters.
const maxQueryParamLen = 256

// handleListRecords returns the live view, oldest first.
func (s *Server) handleListRecords(w http.ResponseWriter, _ *http.Request) {
	records := s.liveView.Records()
	writeJSON(w, http.StatusOK, map[string]any{
		"records":  records,
		"count":    len(records),
		"capacity": s.liveView.Cap(),
	})
}

// handleListHistory returns persisted records, newest first.
//
// Query parameters:
//   - device: exact device label
//   - level: INFO, WARNING or ERROR
//   - since, until: RFC 3339 timestamps (since inclusive, until exclusive)
//   - limit: max results (default 50, max 500)
//   - offset: pagination offset
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history is disabled")
		return
	}

	filter, err := parseHistoryFilter(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	result, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit history", "error", err)
		writeInternalError(w, "failed to list audit history")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func parseHistoryFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	var filter audit.Filter

	filter.Device = q.Get("device")
	if len(filter.Device) > maxQueryParamLen {
		return filter, fmt.Errorf("device exceeds %d characters", maxQueryParamLen)
	}

	if v := q.Get("level"); v != "" {
		level, err := audit.ParseLevel(v)
		if err != nil {
			return filter, err
		}
		filter.Level = level
	}

	var err error
	if filter.Since, err = parseTimeParam(q.Get("since")); err != nil {
		return filter, fmt.Errorf("invalid since: %w", err)
	}
	if filter.Until, err = parseTimeParam(q.Get("until")); err != nil {
		return filter, fmt.Errorf("invalid until: %w", err)
	}

	if filter.Limit, err = parseNonNegative(q.Get("limit")); err != nil {
		return filter, fmt.Errorf("invalid limit: %w", err)
	}
	if filter.Offset, err = parseNonNegative(q.Get("offset")); err != nil {
		return filter, fmt.Errorf("invalid offset: %w", err)
	}

	return filter, nil
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func parseNonNegative(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%d is negative", n)
	}
	return n, nil
}
