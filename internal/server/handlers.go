// internal/server/handlers.go
package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes int64 = 64 << 10

type createResponse struct {
	SessionID string `json:"sessionId"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type navigateRequest struct {
	URL string `json:"url"`
}

type clickRequest struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Button string  `json:"button,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error(), "status": status})
}

// statusFor maps session errors to HTTP statuses.
func statusFor(err error) int {
	var nav *browser.NavigationError
	switch {
	case errors.Is(err, browser.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, browser.ErrNoFrame), errors.Is(err, browser.ErrBusy), errors.Is(err, browser.ErrManagerClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &nav):
		return http.StatusBadGateway
	case errors.Is(err, browser.ErrElementNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body required")
		}
		return err
	}
	return nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	id, vp, err := s.sessions.Open(r.Context())
	if err != nil {
		s.logger.Error("Failed to create session.", zap.Error(err))
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusCreated, createResponse{SessionID: id, Width: vp.Width, Height: vp.Height})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.URL == "" {
		respondError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	if err := s.sessions.Navigate(r.Context(), chi.URLParam(r, "id"), req.URL); err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sessions.ClickAt(r.Context(), chi.URLParam(r, "id"), req.X, req.Y, req.Button); err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleElementAt(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	x, errX := strconv.ParseFloat(q.Get("x"), 64)
	y, errY := strconv.ParseFloat(q.Get("y"), 64)
	if errX != nil || errY != nil {
		respondError(w, http.StatusBadRequest, errors.New("x and y must be numbers"))
		return
	}
	d, err := s.sessions.ElementAt(r.Context(), chi.URLParam(r, "id"), x, y)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	if d == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	png, err := s.sessions.Screenshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.streams.Serve(w, r, chi.URLParam(r, "id"))
}
