package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vanshika/landgate/backend/internal/apperrors"
	"github.com/vanshika/landgate/backend/internal/metrics"
	"github.com/vanshika/landgate/backend/internal/telemetry"
)

const requestIDHeader = "X-Request-ID"

type ctxKey int

const requestIDKey ctxKey = iota

// RouterDependencies collects handler dependencies.
type RouterDependencies struct {
	Health           HealthService
	API              *APIHandlers
	AllowedOrigins   []string
	AllowCredentials bool
	MetricsEnabled   bool
	// WriteRPS and WriteBurst throttle write endpoints per client IP.
	// A non-positive WriteRPS disables throttling.
	WriteRPS   float64
	WriteBurst int
	// TrustProxy honours X-Forwarded-For when keying the write throttle.
	TrustProxy bool
}

// NewRouter wires the HTTP routes exposed by the gateway.
func NewRouter(logger *slog.Logger, deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		payload := map[string]any{
			"status": "ok",
		}

		if deps.Health != nil {
			if err := deps.Health.Probe(ctx); err != nil {
				logger.Error("health probe failed", "error", err)
				status = http.StatusServiceUnavailable
				payload["status"] = "degraded"
				payload["error"] = err.Error()
			}
		}

		respondJSON(w, status, payload)
	})

	if deps.MetricsEnabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	if api := deps.API; api != nil {
		mux.HandleFunc("GET /api/health", api.handleHealth)
		mux.HandleFunc("GET /api/contract/info", api.handleContractInfo)

		mux.HandleFunc("GET /api/lands", api.handleListLands)
		mux.HandleFunc("GET /api/lands/{id}", api.handleGetLand)
		mux.HandleFunc("POST /api/lands/register", api.handleRegisterLand)
		mux.HandleFunc("POST /api/lands/delete", api.handleDeleteLand)

		mux.HandleFunc("GET /api/users/all", api.handleListUsers)
		mux.HandleFunc("GET /api/users/{address}", api.handleGetUser)
		mux.HandleFunc("GET /api/users/{address}/lands", api.handleUserLands)
		mux.HandleFunc("GET /api/users/{address}/transfers", api.handleUserTransfers)
		mux.HandleFunc("POST /api/users/register", api.handleRegisterUser)
		mux.HandleFunc("POST /api/users/revoke", api.handleRevokeUser)
		mux.HandleFunc("POST /api/users/reinstate", api.handleReinstateUser)

		mux.HandleFunc("GET /api/transfers", api.handleListTransfers)
		mux.HandleFunc("GET /api/transfers/pending", api.handlePendingTransfers)
		mux.HandleFunc("GET /api/transfers/{id}", api.handleGetTransfer)
		mux.HandleFunc("POST /api/transfers/request", api.handleRequestTransfer)
		mux.HandleFunc("POST /api/transfers/approve", api.handleApproveTransfer)
		mux.HandleFunc("POST /api/transfers/complete", api.handleCompleteTransfer)

		mux.HandleFunc("GET /api/submissions/{hash}", api.handleGetSubmission)
	}

	handler := http.Handler(mux)
	if deps.WriteRPS > 0 {
		handler = newIPRateLimiter(deps.WriteRPS, deps.WriteBurst, deps.TrustProxy).middleware(handler)
	}
	handler = recoverMiddleware(logger, handler)
	handler = loggingMiddleware(logger, mux, handler)
	handler = requestIDMiddleware(handler)
	if len(deps.AllowedOrigins) > 0 {
		handler = corsMiddleware(deps.AllowedOrigins, deps.AllowCredentials)(handler)
	}
	return handler
}

// loggingMiddleware logs, traces and counts each request. Metrics are
// labelled by route pattern rather than raw path to bound cardinality.
func loggingMiddleware(logger *slog.Logger, mux *http.ServeMux, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		_, route := mux.Handler(r)
		if route == "" {
			route = "unmatched"
		}

		ctx, span := telemetry.Tracer().Start(r.Context(), route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
			),
		)
		defer span.End()

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		elapsed := time.Since(start)
		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		metrics.ObserveHTTP(route, r.Method, rec.status, elapsed)
		logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", requestIDFrom(ctx),
		)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func recoverMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rv := recover()
			if rv == nil {
				return
			}
			if rv == http.ErrAbortHandler {
				panic(rv)
			}
			metrics.PanicRecovered()
			logger.Error("panic recovered",
				"panic", fmt.Sprint(rv),
				"path", r.URL.Path,
				"request_id", requestIDFrom(r.Context()),
				"stack", string(debug.Stack()),
			)
			writeError(w, apperrors.New(apperrors.CodeUnknown, "internal error"))
		}()
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func corsMiddleware(allowedOrigins []string, allowCredentials bool) func(http.Handler) http.Handler {
	normalized := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		normalized[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || (!containsOrigin(normalized, origin) && !containsOrigin(normalized, "*")) {
				if r.Method == http.MethodOptions {
					// Reject bare pre-flight if origin is not whitelisted.
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			if allowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func containsOrigin(set map[string]struct{}, origin string) bool {
	_, ok := set[origin]
	return ok
}
