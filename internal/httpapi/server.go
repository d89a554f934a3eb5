// Package httpapi exposes the sync facade over HTTP for local tooling and
// operators: collection CRUD, queue administration and connectivity control.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/offlinesync/internal/logging"
	"github.com/rzpsarthak13/offlinesync/internal/metrics"
	"github.com/rzpsarthak13/offlinesync/pkg/offlinesync"
)

// Server serves the HTTP API over a facade.
type Server struct {
	facade    *offlinesync.Facade
	rateLimit int
	log       zerolog.Logger
}

// New creates a Server. rateLimit is requests per client IP per minute; zero
// disables limiting.
func New(facade *offlinesync.Facade, rateLimit int) *Server {
	return &Server{
		facade:    facade,
		rateLimit: rateLimit,
		log:       logging.Component("http"),
	}
}

// NewHTTPServer builds an *http.Server for the facade from the server section
// of the configuration.
func NewHTTPServer(facade *offlinesync.Facade, config offlinesync.ServerConfig) *http.Server {
	return &http.Server{
		Addr:              config.ListenAddr,
		Handler:           New(facade, config.RateLimit).Routes(),
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
	}
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.rateLimit > 0 {
			r.Use(httprate.LimitByIP(s.rateLimit, time.Minute))
		}

		r.Route("/collections/{collection}", func(r chi.Router) {
			r.Get("/", s.listRecords)
			r.Post("/", s.createRecord)
			r.Delete("/", s.clearCollection)
			r.Post("/prefetch", s.prefetch)
			r.Get("/{id}", s.getRecord)
			r.Patch("/{id}", s.updateRecord)
			r.Delete("/{id}", s.deleteRecord)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Post("/drain", s.drain)
			r.Get("/queue", s.pendingEntries)
			r.Delete("/queue", s.clearQueue)
			r.Get("/failed", s.failedEntries)
			r.Delete("/failed", s.clearFailed)
			r.Post("/failed/{entryID}/retry", s.retryEntry)
		})

		r.Get("/connectivity", s.connectivity)
		r.Put("/connectivity", s.setConnectivity)

		r.Get("/stats", s.stats)
		r.Post("/cache/prune", s.pruneCache)
	})

	return r
}

// requestLogger logs each request and records HTTP metrics under the
// matched route pattern.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		s.log.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", elapsed).
			Msg("HTTP request")
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	pending, err := s.facade.PendingCount(r.Context())
	if err != nil {
		s.respondFacadeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"online":  s.facade.IsOnline(),
		"pending": pending,
		"breaker": s.facade.Remote().State().String(),
	})
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.facade.Get(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"))
	if err != nil {
		s.respondFacadeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

// listRecords accepts ?index=<field>&value=<v> to list by a declared index.
func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	var opts []offlinesync.ListOption
	if index := r.URL.Query().Get("index"); index != "" {
		opts = append(opts, offlinesync.WithIndex(index, r.URL.Query().Get("value")))
	}
	records, err := s.facade.List(r.Context(), chi.URLParam(r, "collection"), opts...)
	if err != nil {
		s.respondFacadeError(w, r, err)
		return
	}
	if records == nil {
		records = []*offlinesync.Record{}
	}
	s.respondJSON(w, http.StatusOK, records)
}

// createRecord accepts ?provisional_id= to pin the id used while offline.
func (s *Server) createRecord(w http.ResponseWriter, r *http.Request) {
	fields := offlinesync.NewFields()
	if err := decodeBody(r, fields); err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	var opts []offlinesync.CreateOption
	if id := r.URL.Query().Get("provisional_id"); id != "" {
		opts = append(opts, offlinesync.WithProvisionalID(id))
	}
	rec, err := s.facade.Create(r.Context(), chi.URLParam(r, "collection"), fields, opts...)
	if err != nil {
		s.respondFacadeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if rec.IsProvisional {
		status = http.StatusAccepted
	}
	s.respondJSON(w, status, rec)
}

func (s *Server) updateRecord(w http.ResponseWriter, r *http.Request) {
	patch := offlinesync.NewFields()
	if err := decodeBody(r, patch); err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	rec, err := s.facade.Update(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.respondFacadeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.facade.Delete(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id")); err != nil {
		s.respondFacadeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearCollection(w http.ResponseWriter, r *http.Request) {
	n, err := s.facade.ClearCache(r.Context(), chi.URLParam(r, "collection"))
	if err != nil {
		s.respondFacadeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, CountResponse{Count: n})
}

func (s *Server) prefetch(w http.ResponseWriter, r *http.Request) {
	var req PrefetchRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	n, err := s.facade.Prefetch(r.Context(), chi.URLParam(r, "collection"), req.IDs...)
	if err != nil {
		s.respondFacadeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, CountResponse{Count: n})
}

func (s *Server) drain(w http.ResponseWriter, r *http.Request) {
	report, err := s.facade.Drain(r.Context())
	if err != nil {
		s.respondFacadeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) pendingEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.facade.PendingEntries(r.Context())
	if err != nil {
		s.respondFacadeError(w, r, err)
		return
	}
	s.respondEntries(w, entries)
}

func (s *Server) failedEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.facade.FailedEntries(r.Context())
	if err != nil {
		s.respondFacadeError(w, r, err)
		return
	}
	s.respondEntries(w, entries)
}

func (s *Server) respondEntries(w http.ResponseWriter, entries []*offlinesync.QueueEntry) {
	if entries == nil {
		entries = []*offlinesync.QueueEntry{}
	}
	s.respondJSON(w, http.StatusOK, entries)
}

func (s *Server) clearQueue(w http.ResponseWriter, r *http.Request) {
	n, err := s.facade.ClearQueue(r.Context())
	if err != nil {
		s.respondFacadeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, CountResponse{Count: n})
}

func (s *Server) clearFailed(w http.ResponseWriter, r *http.Request) {
	n, err := s.facade.ClearFailed(r.Context())
	if err != nil {
		s.respondFacadeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, CountResponse{Count: n})
}

func (s *Server) retryEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "entry id must be a positive integer")
		return
	}
	entry, err := s.facade.Retry(r.Context(), id)
	if err != nil {
		s.respondFacadeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, entry)
}

func (s *Server) connectivity(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, ConnectivityResponse{Online: s.facade.IsOnline()})
}

// setConnectivity feeds a raw signal to the monitor. Coming online still
// waits out the stability window, so the response may report offline.
func (s *Server) setConnectivity(w http.ResponseWriter, r *http.Request) {
	var req ConnectivityRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if req.Online == nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "online is required")
		return
	}
	s.facade.SetOnline(*req.Online)
	s.respondJSON(w, http.StatusOK, ConnectivityResponse{Online: s.facade.IsOnline()})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.facade.Stats(r.Context())
	if err != nil {
		s.respondFacadeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) pruneCache(w http.ResponseWriter, r *http.Request) {
	n, err := s.facade.CleanExpired(r.Context())
	if err != nil {
		s.respondFacadeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, CountResponse{Count: n})
}
