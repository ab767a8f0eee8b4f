// Package httpx holds the JSON request and response helpers shared by the
// HTTP handlers.
package httpx

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/installmatch/backend/internal/apperrors"
	"github.com/installmatch/backend/internal/validation"
)

const maxBodyBytes = 1 << 20

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as the standard error body. Unclassified errors are
// logged and reported as 500 without their message.
func WriteError(w http.ResponseWriter, log *slog.Logger, err error) {
	code := apperrors.CodeOf(err)
	if code == apperrors.CodeInternal {
		log.Error("request failed", "error", err)
	}
	WriteJSON(w, apperrors.HTTPStatus(code), apperrors.Body(err))
}

// Decode reads the body, validates it against schema and unmarshals it into
// dst. An empty schema skips validation.
func Decode(r *http.Request, v *validation.Validator, schema string, dst any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", apperrors.ErrValidation, err)
	}
	if schema != "" {
		if err := v.Validate(schema, raw); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	return nil
}

// QueryInt parses an optional integer query parameter.
func QueryInt(r *http.Request, name string, def int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
