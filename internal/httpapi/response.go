package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/rzpsarthak13/offlinesync/pkg/offlinesync"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Response is the envelope of every JSON response.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error describes a failed request.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CountResponse is returned by operations that remove or store records.
type CountResponse struct {
	Count int `json:"count"`
}

// ConnectivityResponse reports the facade's connectivity state.
type ConnectivityResponse struct {
	Online bool `json:"online"`
}

// ConnectivityRequest overrides the raw connectivity signal.
type ConnectivityRequest struct {
	Online *bool `json:"online"`
}

// PrefetchRequest lists the ids to cache. An empty list caches the whole
// collection.
type PrefetchRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	s.write(w, status, &Response{Success: true, Data: data})
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.write(w, status, &Response{Error: &Error{Code: code, Message: message}})
}

func (s *Server) write(w http.ResponseWriter, status int, resp *Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		s.log.Debug().Err(err).Msg("Failed to write response")
	}
}

// errorStatus maps facade errors onto HTTP status codes.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, offlinesync.ErrNotFoundLocally):
		return http.StatusNotFound, "NOT_CACHED"
	case errors.Is(err, offlinesync.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, offlinesync.ErrEntryNotFound):
		return http.StatusNotFound, "ENTRY_NOT_FOUND"
	case errors.Is(err, offlinesync.ErrDuplicateCreate):
		return http.StatusConflict, "DUPLICATE_CREATE"
	case errors.Is(err, offlinesync.ErrDrainInProgress):
		return http.StatusConflict, "DRAIN_IN_PROGRESS"
	case errors.Is(err, offlinesync.ErrInvalidArgument), errors.Is(err, offlinesync.ErrUnknownIndex):
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, offlinesync.ErrRemotePermanent):
		return http.StatusUnprocessableEntity, "REMOTE_REJECTED"
	case errors.Is(err, offlinesync.ErrOffline):
		return http.StatusServiceUnavailable, "OFFLINE"
	case errors.Is(err, offlinesync.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"
	case errors.Is(err, offlinesync.ErrClosed):
		return http.StatusServiceUnavailable, "CLOSED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (s *Server) respondFacadeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	s.respondError(w, status, code, err.Error())
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return err
	}
	if len(body) > maxBodyBytes {
		return errors.New("request body too large")
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}
