package api

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/darmiel/trustbroker/internal/api/presenter"
	"github.com/darmiel/trustbroker/internal/core"
	"github.com/darmiel/trustbroker/internal/service"
)

const defaultAuditLimit = 50

// handleAdminAudit processes requests to retrieve audit log entries.
func (s *Server) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	reader, ok := s.broker.Auditor().(core.AuditReader)
	if !ok {
		presenter.Error(w, r, "audit trail is not queryable", http.StatusNotFound)
		return
	}

	// filters
	q := r.URL.Query()
	filterCorrelationID := q.Get("correlation_id")
	filterOwner := q.Get("owner")
	filterAction := q.Get("action")
	filterFingerprint := q.Get("fingerprint")

	limit := defaultAuditLimit
	if limitStr := q.Get("limit"); limitStr != "" {
		v, err := strconv.Atoi(limitStr)
		if err != nil || v <= 0 {
			logger.Warn().Str("limit", limitStr).Msg("invalid limit parameter")
			presenter.Error(w, r, "invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = v
	}

	var (
		entries []core.AuditEntry
		err     error
	)
	if filterCorrelationID != "" || filterOwner != "" || filterAction != "" || filterFingerprint != "" {
		logger.Debug().Msg("applying audit log filters")
		entries, err = reader.Find(func(entry core.AuditEntry) bool {
			if filterCorrelationID != "" && entry.ID != filterCorrelationID {
				return false
			}
			if filterOwner != "" && entry.Owner.String() != filterOwner {
				return false
			}
			if filterAction != "" && entry.Action != filterAction {
				return false
			}
			if filterFingerprint != "" && entry.TokenFingerprint != filterFingerprint {
				return false
			}
			return true
		}, limit)
	} else {
		entries, err = reader.GetRecent(limit)
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to retrieve audit logs")
		presenter.Error(w, r, "failed to retrieve audit logs", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []core.AuditEntry{}
	}

	presenter.JSON(w, r, entries, http.StatusOK)
}

// handleExplain returns the user-mapping trace of a principal or of a replayed request.
func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var payload ExplainPayload
	if !s.decode(w, r, &payload, false) {
		return
	}

	trace, err := s.broker.ExplainMapping(r.Context(), service.ExplainRequest{
		Principal: core.Principal(payload.Principal),
		ReplayID:  payload.ReplayID,
	})
	if err != nil {
		presenter.Err(w, r, err)
		return
	}
	presenter.JSON(w, r, trace, http.StatusOK)
}
