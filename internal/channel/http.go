package channel

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/shortshider/idgen"
	"github.com/hazyhaar/shortshider/kit"
)

// maxMessageBody caps a message payload.
const maxMessageBody int64 = 64 << 10

// PageInfo is one entry of GET /pages.
type PageInfo struct {
	ID         string `json:"id"`
	Count      int    `json:"count"`
	IsHiding   bool   `json:"isHiding"`
	LastUpdate int64  `json:"lastUpdate"`
	Error      string `json:"error,omitempty"`
}

// NewHTTPHandler serves the channel over HTTP:
//
//	POST /message             message for the default page
//	POST /pages/{id}/message  message for page id
//	GET  /pages               attached pages with their stats
//	GET  /healthz             liveness
func NewHTTPHandler(router *Router, reg Registry, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &httpHandler{router: router, reg: reg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestID(logger))
	r.Use(securityHeaders)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/pages", h.listPages)
	r.Post("/message", h.message)
	r.Post("/pages/{id}/message", h.message)
	return r
}

type httpHandler struct {
	router *Router
	reg    Registry
	logger *slog.Logger
}

func (h *httpHandler) message(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, ok := h.reg.Target(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, Fail("unknown page: "+id))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, Fail("message too large"))
		return
	}

	ctx := kit.WithPageID(kit.WithTransport(r.Context(), "http"), id)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(h.router.Dispatch(ctx, t, body))
}

func (h *httpHandler) listPages(w http.ResponseWriter, r *http.Request) {
	ids := h.reg.IDs()
	out := make([]PageInfo, 0, len(ids))
	for _, id := range ids {
		info := PageInfo{ID: id}
		t, ok := h.reg.Target(id)
		if !ok {
			continue
		}
		s, err := t.Stats(r.Context())
		if err != nil {
			info.Error = err.Error()
		} else {
			info.Count, info.IsHiding = s.Count, s.IsHiding
			if !s.LastUpdate.IsZero() {
				info.LastUpdate = s.LastUpdate.UnixMilli()
			}
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

// requestID tags each request with an ID in the context, the response
// headers and the log.
func requestID(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = idgen.Request()
			}
			w.Header().Set("X-Request-ID", id)
			start := time.Now()
			next.ServeHTTP(w, r.WithContext(kit.WithRequestID(r.Context(), id)))
			logger.Debug("channel: http request",
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"duration", time.Since(start),
			)
		})
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
