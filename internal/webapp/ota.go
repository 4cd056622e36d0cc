package webapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonathanBrouwer/lightbringer/internal/ota"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps update errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		re *ota.ReadError
		ie *ota.InternalError
	)
	switch {
	case errors.Is(err, ota.ErrPendingVerify):
		return http.StatusConflict
	case errors.Is(err, ota.ErrAlreadyUpdating):
		return http.StatusLocked
	case errors.Is(err, ota.ErrOutOfSpace):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &re):
		return http.StatusBadRequest
	case errors.As(err, &ie):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func (s *Server) otaStatus(w http.ResponseWriter, _ *http.Request) {
	st, err := s.cfg.OTA.Status()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) otaUpload(w http.ResponseWriter, r *http.Request) {
	s.log.Info("Starting OTA update", "remote", r.RemoteAddr, "length", r.ContentLength)

	if err := s.cfg.OTA.BeginUpdate(r.Context(), r.Body); err != nil {
		s.log.Error(err, "OTA update failed", "remote", r.RemoteAddr)
		s.writeError(w, err)
		return
	}

	st, err := s.cfg.OTA.Status()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("OTA update finished, scheduling reboot", "sequence", st.Sequence)
	writeJSON(w, http.StatusOK, st)

	if s.cfg.OnUpdated != nil {
		go s.cfg.OnUpdated()
	}
}

func (s *Server) otaAccept(w http.ResponseWriter, r *http.Request) {
	s.confirm(w, r, s.cfg.OTA.Accept)
}

func (s *Server) otaReject(w http.ResponseWriter, r *http.Request) {
	s.confirm(w, r, s.cfg.OTA.Reject)
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request, apply func(context.Context) error) {
	if err := apply(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.otaStatus(w, r)
}
