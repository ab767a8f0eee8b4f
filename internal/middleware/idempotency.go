package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"

	"github.com/installmatch/backend/internal/idempotency"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
	maxIdempotencyKeyLen = 255
)

// KeyStore reserves idempotency keys and records their responses.
type KeyStore interface {
	Reserve(key, requestHash string) (*idempotency.Record, bool, error)
	Complete(key string, status int, contentType string, body []byte) error
	Release(key string) error
}

// Idempotency makes a mutating endpoint safe to retry. Requests without an
// Idempotency-Key header pass through unchanged. Keys are scoped to the
// caller, method and path. A completed key replays the stored response; a key
// still in flight gets 409; a 402, 409 or 5xx response releases the key. Must run after
// Authenticate.
func Idempotency(store KeyStore, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderIdempotencyKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLen {
				writeError(w, http.StatusBadRequest, "INVALID_IDEMPOTENCY_KEY", "Idempotency-Key too long")
				return
			}
			id, ok := IdentityFromCtx(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "not authenticated")
				return
			}

			bodyBytes, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "failed to read body")
				return
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			hash := sha256Hex(string(bodyBytes))
			scoped := id.AccountID.String() + "|" + r.Method + "|" + r.URL.Path + "|" + key

			rec, reserved, err := store.Reserve(scoped, hash)
			if err != nil {
				log.Error("reserve idempotency key", "error", err)
				writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
				return
			}
			if !reserved {
				switch {
				case rec.RequestHash != hash:
					writeError(w, http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED", "Idempotency-Key was used with a different request body")
				case rec.State != idempotency.StateCompleted:
					writeError(w, http.StatusConflict, "IDEMPOTENCY_IN_FLIGHT", "a request with this Idempotency-Key is still being processed")
				default:
					if rec.ContentType != "" {
						w.Header().Set("Content-Type", rec.ContentType)
					}
					w.Header().Set(HeaderReplayed, "true")
					w.WriteHeader(rec.Status)
					_, _ = w.Write(rec.Body)
				}
				return
			}

			cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				if p := recover(); p != nil {
					_ = store.Release(scoped)
					panic(p)
				}
			}()
			next.ServeHTTP(cw, r)

			if releasable(cw.status) {
				if err := store.Release(scoped); err != nil {
					log.Error("release idempotency key", "error", err)
				}
				return
			}
			if err := store.Complete(scoped, cw.status, cw.Header().Get("Content-Type"), cw.body.Bytes()); err != nil {
				log.Error("complete idempotency key", "error", err)
			}
		})
	}
}

// releasable reports whether a response depends on state the caller can
// change, so a retry with the same key must run the handler again. 402 and 409
// answer the current balance or order state; 5xx are transient.
func releasable(status int) bool {
	switch status {
	case http.StatusPaymentRequired, http.StatusConflict:
		return true
	}
	return status >= http.StatusInternalServerError
}

// captureWriter passes the response through while keeping a copy.
type captureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	if !c.wroteHeader {
		c.status = status
		c.wroteHeader = true
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
