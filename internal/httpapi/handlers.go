package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/live-score-backend/internal/apperr"
	"github.com/DoyleJ11/live-score-backend/internal/match"
	"github.com/DoyleJ11/live-score-backend/internal/token"
	"github.com/DoyleJ11/live-score-backend/pkg/types"
)

type handlers struct {
	svc *match.Service
	log *zap.Logger
}

type joinRequest struct {
	Username string `json:"username"`
}

type joinResponse struct {
	Token string          `json:"token"`
	IsNew bool            `json:"isNew"`
	Match types.MatchView `json:"match"`
}

// umpire authenticates the request's bearer token and requires the umpire
// role.
func (h handlers) umpire(r *http.Request) (token.Claims, error) {
	raw := token.FromRequest(r)
	if raw == "" {
		return token.Claims{}, apperr.ErrMalformedToken
	}
	claims, err := h.svc.Authenticate(raw)
	if err != nil {
		return token.Claims{}, err
	}
	if claims.Role != token.RoleController {
		return token.Claims{}, apperr.ErrNotController
	}
	return claims, nil
}

func (h handlers) createMatch(w http.ResponseWriter, r *http.Request) {
	claims, err := h.umpire(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var in match.CreateMatchInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, h.log, apperr.Wrap(apperr.CodeMissingField, "invalid request body", err))
		return
	}
	created, err := h.svc.CreateMatch(r.Context(), claims.Identity, in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeData(w, http.StatusCreated, created)
}

func (h handlers) getMatch(w http.ResponseWriter, r *http.Request) {
	raw := token.FromRequest(r)
	if raw == "" {
		writeError(w, h.log, apperr.ErrMalformedToken)
		return
	}
	v, err := h.svc.SnapshotFor(r.Context(), chi.URLParam(r, "matchID"), raw)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, v.Public())
}

func (h handlers) joinMatch(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, apperr.Wrap(apperr.CodeMissingField, "invalid request body", err))
		return
	}
	tok, isNew, v, err := h.svc.Admit(r.Context(), chi.URLParam(r, "matchID"), req.Username)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	writeData(w, status, joinResponse{Token: tok, IsNew: isNew, Match: v.Public()})
}

func (h handlers) leaveMatch(w http.ResponseWriter, r *http.Request) {
	raw := token.FromRequest(r)
	if raw == "" {
		writeError(w, h.log, apperr.ErrMalformedToken)
		return
	}
	if err := h.svc.Leave(r.Context(), chi.URLParam(r, "matchID"), raw); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, nil)
}

func (h handlers) endMatch(w http.ResponseWriter, r *http.Request) {
	claims, err := h.umpire(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	id := chi.URLParam(r, "matchID")
	if err := h.svc.EndSession(r.Context(), id, claims.Identity); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, types.MatchRef{MatchID: id})
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
