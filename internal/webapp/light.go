package webapp

import (
	"encoding/json"
	"net/http"

	"github.com/JonathanBrouwer/lightbringer/internal/light"
	"github.com/JonathanBrouwer/lightbringer/internal/pkg/metrics"
)

func (s *Server) getLight(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.State.Snapshot())
}

func (s *Server) putLight(w http.ResponseWriter, r *http.Request) {
	var st light.State
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&st); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	s.cfg.State.Write(st)
	metrics.LightWritesTotal.WithLabelValues("http").Inc()
	writeJSON(w, http.StatusOK, st)
}
