package api

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/ATPFlow/internal/auth"
)

type cachedResponse struct {
	status      int
	contentType string
	body        []byte
	expires     time.Time
}

// IdempotencyCache replays the response of a mutating request that is
// retried with the same Idempotency-Key. Entries live in memory for ttl.
type IdempotencyCache struct {
	mu      sync.Mutex
	entries map[string]cachedResponse
	ttl     time.Duration
	now     func() time.Time
}

func NewIdempotencyCache(ttl time.Duration) *IdempotencyCache {
	return &IdempotencyCache{
		entries: make(map[string]cachedResponse),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *IdempotencyCache) get(key string) (cachedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return cachedResponse{}, false
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return cachedResponse{}, false
	}
	return e, true
}

func (c *IdempotencyCache) put(key string, e cachedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, old := range c.entries {
		if now.After(old.expires) {
			delete(c.entries, k)
		}
	}
	e.expires = now.Add(c.ttl)
	c.entries[key] = e
}

type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (cw *captureWriter) WriteHeader(status int) {
	cw.status = status
	cw.ResponseWriter.WriteHeader(status)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.status == 0 {
		cw.status = http.StatusOK
	}
	cw.buf.Write(b)
	return cw.ResponseWriter.Write(b)
}

// Middleware applies the cache to POST requests carrying an Idempotency-Key.
// Keys are scoped to the caller. Server errors are not cached so the client
// can retry them.
func (c *IdempotencyCache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idemKey := r.Header.Get("Idempotency-Key")
		if r.Method != http.MethodPost || idemKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		user := ""
		if p := auth.FromContext(r.Context()); p != nil {
			user = p.UserID
		}
		key := user + "|" + r.URL.Path + "|" + idemKey

		if cached, ok := c.get(key); ok {
			w.Header().Set("Content-Type", cached.contentType)
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(cached.status)
			w.Write(cached.body)
			return
		}

		cw := &captureWriter{ResponseWriter: w}
		next.ServeHTTP(cw, r)
		if cw.status != 0 && cw.status < http.StatusInternalServerError {
			c.put(key, cachedResponse{
				status:      cw.status,
				contentType: w.Header().Get("Content-Type"),
				body:        cw.buf.Bytes(),
			})
		}
	})
}
