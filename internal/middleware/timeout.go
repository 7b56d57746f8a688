package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// bufferedWriter holds a handler's response until the Timeout middleware
// decides whether it reaches the client. Only JSON routes use it; it cannot
// flush or hijack.
type bufferedWriter struct {
	header http.Header

	mu      sync.Mutex
	status  int
	body    bytes.Buffer
	dropped bool
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header)}
}

func (b *bufferedWriter) Header() http.Header {
	return b.header
}

func (b *bufferedWriter) WriteHeader(code int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == 0 && !b.dropped {
		b.status = code
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dropped {
		return 0, http.ErrHandlerTimeout
	}
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

// started reports whether the handler produced any response.
func (b *bufferedWriter) started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status != 0
}

// drop discards the response and fails later writes.
func (b *bufferedWriter) drop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropped = true
	b.body.Reset()
}

// copyTo sends the buffered response to w.
func (b *bufferedWriter) copyTo(w http.ResponseWriter) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dst := w.Header()
	for k, v := range b.header {
		dst[k] = v
	}
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if _, err := w.Write(b.body.Bytes()); err != nil {
		log.Debug().Err(err).Msg("Failed to write buffered response")
	}
}

// Timeout bounds a JSON route. The handler runs with a deadline on its
// context and writes into a buffer. If it finishes in time the buffer is sent;
// otherwise the client gets a 504 envelope and whatever the handler writes
// later is dropped. A panic in the handler is re-raised on the serving
// goroutine so Recovery handles it.
func Timeout(timeout time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = withStart(r)
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			bw := newBufferedWriter()
			done := make(chan struct{})
			panicked := make(chan any, 1)

			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicked <- p
					}
				}()
				next.ServeHTTP(bw, r.WithContext(ctx))
				close(done)
			}()

			select {
			case p := <-panicked:
				panic(p)
			case <-done:
				// A handler that gave up on its deadline without writing still
				// owes the client an answer.
				if errors.Is(ctx.Err(), context.DeadlineExceeded) && !bw.started() {
					writeError(w, r, http.StatusGatewayTimeout, "Request timeout")
					return
				}
				bw.copyTo(w)
			case <-ctx.Done():
				bw.drop()
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					log.Warn().
						Str("path", r.URL.Path).
						Dur("timeout", timeout).
						Msg("Request timed out")
					writeError(w, r, http.StatusGatewayTimeout, "Request timeout")
				}
			}
		})
	}
}
