package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/darmiel/trustbroker/internal/api/presenter"
	"github.com/darmiel/trustbroker/internal/authn"
	"github.com/darmiel/trustbroker/internal/core"
	"github.com/darmiel/trustbroker/internal/service"
)

// maxBodySize bounds request bodies of the broker endpoints.
const maxBodySize = 64 << 10

func DecodePayload(r *http.Request, dest any, allowEmpty bool) error {
	switch r.Header.Get("Content-Type") {
	case "application/json", "":
		// strict decoding for JSON
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
		dec.DisallowUnknownFields()
		if err := dec.Decode(dest); err != nil {
			if !errors.Is(err, io.EOF) || !allowEmpty {
				return err
			}
		}
		// ensure there's no extra data
		if dec.More() {
			return errors.New("extra data in request body")
		}
		return nil
	default:
		return errors.New("unsupported content type")
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dest any, allowEmpty bool) bool {
	if err := DecodePayload(r, dest, allowEmpty); err != nil {
		presenter.Err(w, r, core.InvalidArgument("Invalid request payload: %v", err))
		return false
	}
	return true
}

// authenticate authenticates the request with the configured backend. The returned
// request carries the principal in its context and logger.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*http.Request, core.Principal, bool) {
	backend, err := s.authenticator(r.Context())
	if err != nil {
		presenter.Err(w, r, err)
		return r, "", false
	}
	ctx, principal, err := authn.Authenticate(r.Context(), backend, r.Header.Get("Authorization"))
	if err != nil {
		if core.IsKind(err, core.KindUnauthenticated) {
			w.Header().Set("WWW-Authenticate", backend.Scheme())
		}
		presenter.Err(w, r, err)
		return r, "", false
	}
	return r.WithContext(ctx), principal, true
}

// handleGetAccessToken accepts either a credential of the authentication backend or
// a session token in the BrokerSession scheme.
func (s *Server) handleGetAccessToken(w http.ResponseWriter, r *http.Request) {
	var payload AccessTokenPayload
	if !s.decode(w, r, &payload, true) {
		return
	}

	req := service.AccessTokenRequest{
		Owner:  core.Principal(payload.Owner),
		Scopes: payload.Scopes,
		Target: payload.Target,
	}

	var caller core.Principal
	if scheme, credential := authn.ParseAuthorization(r.Header.Get("Authorization")); strings.EqualFold(scheme, SchemeBrokerSession) {
		if credential == "" {
			presenter.Err(w, r, core.Unauthenticated(nil, "Missing session token"))
			return
		}
		req.SessionToken = credential
	} else {
		var ok bool
		if r, caller, ok = s.authenticate(w, r); !ok {
			return
		}
	}

	resp, err := s.broker.GetAccessToken(r.Context(), caller, req)
	if err != nil {
		presenter.Err(w, r, err)
		return
	}
	presenter.JSON(w, r, AccessTokenResponse{
		AccessToken: resp.AccessToken,
		ExpiresAt:   resp.ExpiresAt,
	}, http.StatusOK)
}

func (s *Server) handleGetSessionToken(w http.ResponseWriter, r *http.Request) {
	r, caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var payload SessionTokenPayload
	if !s.decode(w, r, &payload, false) {
		return
	}

	resp, err := s.broker.GetSessionToken(r.Context(), caller, service.SessionTokenRequest{
		Owner:   core.Principal(payload.Owner),
		Renewer: core.Principal(payload.Renewer),
		Target:  payload.Target,
		Scopes:  payload.Scopes,
	})
	if err != nil {
		presenter.Err(w, r, err)
		return
	}
	presenter.JSON(w, r, SessionTokenResponse{
		SessionToken: resp.SessionToken,
		ExpiresAt:    resp.ExpiresAt,
	}, http.StatusOK)
}

func (s *Server) handleRenewSessionToken(w http.ResponseWriter, r *http.Request) {
	r, caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var payload RenewSessionTokenPayload
	if !s.decode(w, r, &payload, false) {
		return
	}

	var extension time.Duration
	if payload.Extension != "" {
		var err error
		if extension, err = time.ParseDuration(payload.Extension); err != nil {
			presenter.Err(w, r, core.InvalidArgument("Invalid `extension`: %v", err))
			return
		}
	}

	resp, err := s.broker.RenewSessionToken(r.Context(), caller, service.RenewSessionTokenRequest{
		SessionToken: payload.SessionToken,
		Extension:    extension,
	})
	if err != nil {
		presenter.Err(w, r, err)
		return
	}
	presenter.JSON(w, r, RenewSessionTokenResponse{ExpiresAt: resp.ExpiresAt}, http.StatusOK)
}

func (s *Server) handleCancelSessionToken(w http.ResponseWriter, r *http.Request) {
	r, caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var payload CancelSessionTokenPayload
	if !s.decode(w, r, &payload, false) {
		return
	}

	if err := s.broker.CancelSessionToken(r.Context(), caller, service.CancelSessionTokenRequest{
		SessionToken: payload.SessionToken,
	}); err != nil {
		presenter.Err(w, r, err)
		return
	}
	presenter.JSON(w, r, CancelSessionTokenResponse{Cancelled: true}, http.StatusOK)
}
