package http

import (
	"encoding/json"
	"net/http"

	"github.com/mind-engage/groundschool/internal/apperrors"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps an error kind to the status the browser sees.
func statusFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindAuth:
		return http.StatusLocked
	case apperrors.KindNetwork:
		if apperrors.IsTimeout(err) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case apperrors.KindProtocol, apperrors.KindApplication:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorStatus(w, r, statusFor(err), err)
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	kind := apperrors.KindOf(err)
	if status >= 500 {
		s.log.ErrorErr("request failed", err, "path", r.URL.Path, "kind", kind.String(), "status", status)
	} else {
		s.log.Debug("request rejected", "path", r.URL.Path, "kind", kind.String(), "status", status, "error", err.Error())
	}
	respondJSON(w, status, errorBody{Error: err.Error(), Kind: kind.String()})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return apperrors.Validation("decode", "bad json: %v", err)
	}
	return nil
}
