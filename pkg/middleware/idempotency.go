package middleware

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"slotkeeper/pkg/auth"
	apperrors "slotkeeper/pkg/errors"
	"slotkeeper/pkg/logger"
)

const (
	DefaultIdempotencyHeader = "Idempotency-Key"
	MsgIdempotencyInFlight   = "A request with this Idempotency-Key is still in progress, please retry"

	// idempotencyPendingTTL caps how long a crashed holder can block a key.
	idempotencyPendingTTL   = time.Minute
	idempotencyPollInterval = 25 * time.Millisecond
)

type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*CachedResponse, bool, error)
	Set(ctx context.Context, key string, response *CachedResponse) error
	// Reserve marks key as in flight. It reports false while another request
	// holds the key or a response is already stored.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Stop() // Stop cleanup goroutines and release resources
}

type CachedResponse struct {
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers"`
	Body       []byte      `json:"body"`
	CreatedAt  time.Time   `json:"created_at"`
}

type InMemoryIdempotencyStore struct {
	mu       sync.RWMutex
	store    map[string]*CachedResponse
	pending  map[string]time.Time
	ttl      time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewInMemoryIdempotencyStore(ttl time.Duration) *InMemoryIdempotencyStore {
	store := &InMemoryIdempotencyStore{
		store:   make(map[string]*CachedResponse),
		pending: make(map[string]time.Time),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}

	go store.cleanup()

	return store
}

func (s *InMemoryIdempotencyStore) Get(_ context.Context, key string) (*CachedResponse, bool, error) {
	s.mu.RLock()
	response, exists := s.store[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}

	if time.Since(response.CreatedAt) > s.ttl {
		s.mu.Lock()
		delete(s.store, key)
		s.mu.Unlock()
		return nil, false, nil
	}

	return response, true, nil
}

func (s *InMemoryIdempotencyStore) Set(_ context.Context, key string, response *CachedResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	response.CreatedAt = time.Now()
	s.store[key] = response
	return nil
}

func (s *InMemoryIdempotencyStore) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if response, ok := s.store[key]; ok && now.Sub(response.CreatedAt) <= s.ttl {
		return false, nil
	}
	if expires, ok := s.pending[key]; ok && now.Before(expires) {
		return false, nil
	}
	s.pending[key] = now.Add(ttl)
	return true, nil
}

func (s *InMemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, key)
	return nil
}

func (s *InMemoryIdempotencyStore) cleanup() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			for key, response := range s.store {
				if time.Since(response.CreatedAt) > s.ttl {
					delete(s.store, key)
				}
			}
			for key, expires := range s.pending {
				if time.Now().After(expires) {
					delete(s.pending, key)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

func (s *InMemoryIdempotencyStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (rc *responseCapture) WriteHeader(statusCode int) {
	rc.statusCode = statusCode
	rc.ResponseWriter.WriteHeader(statusCode)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// Idempotency replays the stored 2xx response when a caller repeats a request
// with the same key. Keys are scoped by caller, method and path. A repeat that
// arrives while the first request is still running waits for its outcome.
// Store failures are logged and the request proceeds uncached.
func Idempotency(store IdempotencyStore, headerName string, log *logger.Logger) func(http.Handler) http.Handler {
	if headerName == "" {
		headerName = DefaultIdempotencyHeader
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := scopedIdempotencyKey(r, headerName)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			cached, err := awaitIdempotencyKey(r.Context(), store, key)
			switch {
			case err != nil && r.Context().Err() != nil:
				_ = apperrors.WriteError(w, apperrors.LockTimeout(MsgIdempotencyInFlight, err))
				return
			case err != nil:
				log.Warn("Idempotency store failed", "request_id", RequestID(r.Context()), "error", err)
				next.ServeHTTP(w, r)
				return
			case cached != nil:
				replayCachedResponse(w, cached)
				return
			}
			defer func() {
				if err := store.Release(context.WithoutCancel(r.Context()), key); err != nil {
					log.Warn("Idempotency release failed", "request_id", RequestID(r.Context()), "error", err)
				}
			}()

			capture := &responseCapture{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           &bytes.Buffer{},
			}
			next.ServeHTTP(capture, r)

			if !shouldCacheResponse(capture.statusCode) {
				return
			}
			headers := w.Header().Clone()
			headers.Del(RequestIDHeader)
			err = store.Set(context.WithoutCancel(r.Context()), key, &CachedResponse{
				StatusCode: capture.statusCode,
				Headers:    headers,
				Body:       capture.body.Bytes(),
			})
			if err != nil {
				log.Warn("Idempotency store failed", "request_id", RequestID(r.Context()), "error", err)
			}
		})
	}
}

// awaitIdempotencyKey returns the stored response for key, or a nil response
// once key is reserved for the caller, who must Release it. While another
// request holds the key it polls until that request stores a response, gives
// the key up, or ctx ends. On error nothing is held.
func awaitIdempotencyKey(ctx context.Context, store IdempotencyStore, key string) (*CachedResponse, error) {
	for {
		cached, found, err := store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if found {
			return cached, nil
		}

		reserved, err := store.Reserve(ctx, key, idempotencyPendingTTL)
		if err != nil {
			return nil, err
		}
		if reserved {
			// The previous holder may have stored its response between Get
			// and Reserve.
			cached, found, err := store.Get(ctx, key)
			if err == nil && !found {
				return nil, nil
			}
			_ = store.Release(context.WithoutCancel(ctx), key)
			return cached, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(idempotencyPollInterval):
		}
	}
}

func scopedIdempotencyKey(r *http.Request, headerName string) string {
	raw := strings.TrimSpace(r.Header.Get(headerName))
	if raw == "" {
		return ""
	}
	caller := "anonymous"
	if id, ok := auth.FromContext(r.Context()); ok {
		caller = id.ID
	}
	return strings.Join([]string{caller, r.Method, r.URL.Path, raw}, ":")
}

func replayCachedResponse(w http.ResponseWriter, cached *CachedResponse) {
	for key, values := range cached.Headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
}

func shouldCacheResponse(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
