package penwatch

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/penwatch/connectivity"
	"github.com/hazyhaar/penwatch/horosafe"
	"github.com/hazyhaar/penwatch/shield"
)

// HTTPOptions configures Handler.
type HTTPOptions struct {
	// TokenHash is a bcrypt hash of the bearer token. Empty disables auth.
	TokenHash string
	// MaxBody caps request bodies. Default 64 KiB.
	MaxBody int64
	// RateLimiter, if set, limits /v1 requests per client.
	RateLimiter *shield.RateLimiter
	// Router, if set, serves POST /v1/call/{service} from its local
	// handlers, the target of another process's "http" route.
	Router *connectivity.Router
	// MCP, if set, is served at /mcp behind the same auth.
	MCP    http.Handler
	Logger *slog.Logger
}

// Handler serves the message channel over HTTP.
//
//	GET  /healthz     liveness, no auth
//	POST /v1/message  message envelope → reply
//	GET  /v1/status   attached pages
//	POST /v1/call/{service}  local connectivity handler (with HTTPOptions.Router)
//	*    /mcp         MCP streamable HTTP (with HTTPOptions.MCP)
func (w *Watcher) Handler(opts HTTPOptions) http.Handler {
	if opts.MaxBody <= 0 {
		opts.MaxBody = 64 * 1024
	}
	if opts.Logger == nil {
		opts.Logger = w.logger
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(shield.TraceID(opts.Logger))
	r.Use(shield.SecurityHeaders(shield.APIHeaders()))
	r.Use(shield.MaxBody(opts.MaxBody))

	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]bool{"ok": true})
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(opts.TokenHash))
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Middleware)
		}
		r.Post("/v1/message", func(rw http.ResponseWriter, req *http.Request) {
			body, err := horosafe.LimitedReadAll(req.Body, opts.MaxBody)
			if err != nil {
				writeError(rw, http.StatusRequestEntityTooLarge, err)
				return
			}
			reply, err := w.HandleMessage(req.Context(), body)
			switch {
			case errors.Is(err, ErrInvalidMessage):
				writeError(rw, http.StatusBadRequest, err)
			case err != nil:
				shield.GetLogger(req.Context()).Error("penwatch: message", "error", err)
				writeError(rw, http.StatusInternalServerError, err)
			default:
				rw.Header().Set("Content-Type", "application/json")
				rw.Write(reply)
			}
		})
		r.Get("/v1/status", func(rw http.ResponseWriter, req *http.Request) {
			writeJSON(rw, http.StatusOK, w.Status(req.Context()))
		})
		if opts.Router != nil {
			r.Post("/v1/call/{service}", callHandler(opts.Router, opts.MaxBody))
		}
		if opts.MCP != nil {
			r.Handle("/mcp", opts.MCP)
		}
	})
	return r
}

func callHandler(router *connectivity.Router, maxBody int64) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		body, err := horosafe.LimitedReadAll(req.Body, maxBody)
		if err != nil {
			writeError(rw, http.StatusRequestEntityTooLarge, err)
			return
		}
		service := chi.URLParam(req, "service")
		out, err := router.CallLocal(req.Context(), service, body)
		var notFound *connectivity.ErrServiceNotFound
		switch {
		case errors.As(err, &notFound):
			writeError(rw, http.StatusNotFound, err)
		case errors.Is(err, ErrInvalidMessage):
			writeError(rw, http.StatusBadRequest, err)
		case err != nil:
			shield.GetLogger(req.Context()).Error("penwatch: call", "service", service, "error", err)
			writeError(rw, http.StatusBadGateway, err)
		default:
			rw.Header().Set("Content-Type", "application/json")
			if out == nil {
				out = []byte("null")
			}
			rw.Write(out)
		}
	}
}

func bearerAuth(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if hash == "" {
			return next
		}
		return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
			token, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
			if !ok || bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) != nil {
				rw.Header().Set("WWW-Authenticate", `Bearer realm="penwatch"`)
				writeError(rw, http.StatusUnauthorized, errors.New("unauthorized"))
				return
			}
			next.ServeHTTP(rw, req)
		})
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, err error) {
	writeJSON(rw, status, map[string]string{"error": err.Error()})
}
