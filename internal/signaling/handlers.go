package signaling

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rudransh-shrivastava/geckos/internal/auth"
	"github.com/rudransh-shrivastava/geckos/internal/manager"
	"github.com/rudransh-shrivastava/geckos/internal/transport"
)

// ConnectionResponse is the body of a successful POST /connections.
type ConnectionResponse struct {
	ID               string                        `json:"id"`
	LocalDescription *transport.SessionDescription `json:"localDescription,omitempty"`
	UserData         any                           `json:"userData"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	credential := r.Header.Get("Authorization")

	res := s.manager.CreateConnection(r.Context(), credential, auth.RequestContext{
		Request:  r,
		Response: w,
	})

	if res.Status != http.StatusOK {
		status := res.Status
		if status < 100 || status >= 600 {
			status = http.StatusInternalServerError
		}
		w.WriteHeader(status)
		return
	}

	userData := res.UserData
	if userData == nil {
		userData = struct{}{}
	}

	s.writeJSON(w, http.StatusOK, ConnectionResponse{
		ID:               res.ID,
		LocalDescription: res.LocalDescription,
		UserData:         userData,
	})
}

func (s *Server) handleRemoteDescription(w http.ResponseWriter, r *http.Request) {
	var desc transport.SessionDescription
	if !s.readJSON(w, r, &desc) {
		return
	}

	err := s.manager.ApplyRemoteDescription(r.PathValue("id"), desc)
	s.writeResult(w, r, err)
}

func (s *Server) handleRemoteCandidate(w http.ResponseWriter, r *http.Request) {
	var cand transport.Candidate
	if !s.readJSON(w, r, &cand) {
		return
	}

	err := s.manager.AddRemoteCandidate(r.PathValue("id"), cand)
	s.writeResult(w, r, err)
}

func (s *Server) handleAdditionalCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.manager.AdditionalCandidates(r.PathValue("id"))
	if err != nil {
		s.writeResult(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, candidates)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	err := s.manager.CloseConnection(r.PathValue("id"))
	s.writeResult(w, r, err)
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		s.logger.Debugf("Malformed request body: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, manager.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
	default:
		s.logger.WithField("connection", r.PathValue("id")).Warnf("Signaling request failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warnf("Failed to write response: %v", err)
	}
}
