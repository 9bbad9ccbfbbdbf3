package service

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/darmiel/trustbroker/internal/core"
)

// ExplainMapping returns the trace of the user-mapping rules for a principal.
// With a ReplayID, the owner of that audited request is traced against the current rules.
func (b *Broker) ExplainMapping(ctx context.Context, req ExplainRequest) (*core.MappingTrace, error) {
	logger := log.Ctx(ctx)

	principal := req.Principal
	if req.ReplayID != "" {
		logger.UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("replay_id", req.ReplayID)
		})

		reader, ok := b.auditor.(core.AuditReader)
		if !ok {
			return nil, core.InvalidArgument("Audit trail is not queryable, cannot replay")
		}
		entries, err := reader.Find(func(entry core.AuditEntry) bool {
			return entry.ID == req.ReplayID
		}, 1)
		if err != nil {
			return nil, core.Internal(err, "Failed to read audit trail")
		}
		if len(entries) == 0 {
			return nil, core.NotFound("Audit entry `%s` not found", req.ReplayID)
		}
		principal = entries[0].Owner
		logger.Debug().Str("owner", principal.String()).Msg("replaying audit log entry")
	}
	if principal == "" {
		return nil, core.MissingParameter("principal")
	}

	trace := b.mapping.Engine().Trace(principal)
	return &trace, nil
}
