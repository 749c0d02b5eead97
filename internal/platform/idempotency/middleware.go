package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/navajothi-jewels/storefront-sync/internal/platform/httpx"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/requestctx"
)

const (
	// HeaderName carries the client-chosen key.
	HeaderName = "Idempotency-Key"
	// ReplayHeader marks a replayed response.
	ReplayHeader = "X-Idempotent-Replay"

	maxReplayBody = 64 * 1024
	anonymous     = "anonymous"
)

type config struct {
	ttl       time.Duration
	clock     func() time.Time
	requester func(*http.Request) string
	methods   map[string]struct{}
}

// Option customises the middleware.
type Option func(*config)

// WithTTL sets how long finished responses are replayed.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithRequester scopes keys by the identity the request acts for, so two identities never share a key.
func WithRequester(fn func(*http.Request) string) Option {
	return func(c *config) {
		if fn != nil {
			c.requester = fn
		}
	}
}

// Middleware replays the stored response for a repeated key. Requests without the header, and
// methods other than POST, PATCH and DELETE, pass straight through.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	cfg := config{
		ttl:       DefaultTTL,
		clock:     time.Now,
		requester: func(*http.Request) string { return anonymous },
		methods: map[string]struct{}{
			http.MethodPost:   {},
			http.MethodPatch:  {},
			http.MethodDelete: {},
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(HeaderName))
			if _, guarded := cfg.methods[r.Method]; !guarded || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			logger := requestctx.Logger(ctx)

			body, err := bufferBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}

			requester := strings.TrimSpace(cfg.requester(r))
			if requester == "" {
				requester = anonymous
			}
			scoped := key + "|" + requester
			fingerprint := fingerprintOf(r, body, requester)

			claim, err := store.Claim(ctx, scoped, fingerprint, cfg.clock(), cfg.ttl)
			switch {
			case errors.Is(err, ErrKeyReused):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusUnprocessableEntity))
				return
			case err != nil:
				logger.Error("idempotency.claim_failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unable to process idempotency key", http.StatusInternalServerError))
				return
			}

			switch claim.Outcome {
			case OutcomeReplay:
				logger.Debug("idempotency.replayed", zap.String("method", r.Method), zap.String("path", r.URL.Path))
				replay(w, claim.Response)
				return
			case OutcomeInFlight:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is still running", http.StatusConflict))
				return
			}

			rec := &recorder{parent: w, header: make(http.Header)}
			next.ServeHTTP(rec, r)

			if rec.status() >= http.StatusInternalServerError {
				if err := store.Release(ctx, scoped, fingerprint); err != nil {
					logger.Warn("idempotency.release_failed", zap.Error(err))
				}
			} else if err := store.Finish(ctx, scoped, fingerprint, rec.response(), cfg.clock(), cfg.ttl); err != nil {
				logger.Warn("idempotency.finish_failed", zap.Error(err))
			}
			rec.flush()
		})
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxReplayBody+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func fingerprintOf(r *http.Request, body []byte, requester string) string {
	parts := []string{
		r.Method,
		r.URL.Path,
		r.URL.RawQuery,
		requester,
		sha256Hex(body),
	}
	return sha256Hex([]byte(strings.Join(parts, "\n")))
}

func replay(w http.ResponseWriter, resp Response) {
	for name, values := range resp.Headers {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(ReplayHeader, "true")
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

// recorder buffers the handler's response so it can be stored before reaching the client.
type recorder struct {
	parent http.ResponseWriter
	header http.Header
	code   int
	body   bytes.Buffer
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if r.code == 0 {
		r.code = status
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	return r.body.Write(p)
}

func (r *recorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}
	return r.code
}

func (r *recorder) response() Response {
	return Response{Status: r.status(), Headers: r.header.Clone(), Body: r.body.Bytes()}
}

func (r *recorder) flush() {
	dst := r.parent.Header()
	for name, values := range r.header {
		dst[name] = values
	}
	r.parent.WriteHeader(r.status())
	if r.body.Len() > 0 {
		_, _ = r.parent.Write(r.body.Bytes())
	}
}
