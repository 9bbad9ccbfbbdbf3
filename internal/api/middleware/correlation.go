package middleware

import (
	"net/http"

	"github.com/rs/xid"

	"github.com/darmiel/trustbroker/internal/logging"
)

const CorrelationIDHeader = "X-Correlation-ID"

// maxCorrelationIDLength bounds client-supplied correlation ids.
const maxCorrelationIDLength = 64

func CorrelationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationIDHeader)
		if id == "" || len(id) > maxCorrelationIDLength {
			id = xid.New().String()
		}
		w.Header().Set(CorrelationIDHeader, id)

		ctx := logging.WithCorrelationID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
