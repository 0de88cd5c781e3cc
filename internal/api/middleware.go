package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"agent-market/internal/address"
	"agent-market/internal/domain"
	"agent-market/internal/observability"
)

// CallerHeader carries the address a request acts on behalf of.
const CallerHeader = "X-Caller"

// RequestIDHeader carries the request id; one is generated when absent.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLen caps client supplied request ids.
const maxRequestIDLen = 128

// maxLimiters bounds the limiter map; past it every bucket is reset.
const maxLimiters = 10000

// RateLimiter hands out one token bucket per key.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter allowing rps requests per second per key
// with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether key may make a request now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	if len(rl.limiters) > maxLimiters {
		rl.limiters = make(map[string]*rate.Limiter)
	}
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = l
	}
	rl.mu.Unlock()
	return l.Allow()
}

// callerHandler is a mutating handler bound to an authenticated caller.
type callerHandler func(w http.ResponseWriter, r *http.Request, caller domain.Address)

// signed resolves the caller, applies its rate limit and records the request.
func (h *Handler) signed(op string, next callerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(CallerHeader)
		if raw == "" {
			h.writeError(w, http.StatusUnauthorized, CodeUnauthorized, CallerHeader+" header required")
			return
		}
		caller, err := address.ParseSigner(raw)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, CodeUnauthorized, err.Error())
			return
		}
		if h.limiter != nil && !h.limiter.Allow(string(caller)) {
			h.writeError(w, http.StatusTooManyRequests, CodeRateLimit, "Rate limit exceeded")
			return
		}

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r, caller)
		h.log.Debug().
			Str("op", op).
			Str("request_id", RequestID(r.Context())).
			Str("caller", string(caller)).
			Int("status", sw.status).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

// limited applies the rate limit keyed by remote host to unsigned routes.
func (h *Handler) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow(remoteHost(r)) {
			h.writeError(w, http.StatusTooManyRequests, CodeRateLimit, "Rate limit exceeded")
			return
		}
		next(w, r)
	}
}

type requestIDKey struct{}

// withRequestID tags every request with an id, echoed in the response.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestID returns the id withRequestID stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// instrument records request latency per route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		observability.RecordHTTPRequest(routeName(r), r.Method, sw.status, time.Since(start))
	})
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}
