package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"supplyintel/internal/domain"
)

// Wire codes for API errors.
const (
	CodeTimeout            = "TIMEOUT"
	CodeRateLimit          = "RATE_LIMIT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInternal           = "INTERNAL"
)

const maxBodyBytes = 1 << 20

// apiFunc produces the data for a success envelope. It never writes to the
// response itself so the timeout adapter can own the writer.
type apiFunc func(r *http.Request) (any, error)

// classify maps an error to an HTTP status and wire code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, domain.ErrTimeout):
		return http.StatusRequestTimeout, CodeTimeout
	case errors.Is(err, domain.ErrRateLimit):
		return http.StatusTooManyRequests, CodeRateLimit
	case errors.Is(err, domain.ErrCircuitOpen), errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusServiceUnavailable, CodeServiceUnavailable
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrAgentNotFound):
		return http.StatusNotFound, CodeNotFound
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// adapt runs fn under timeout and writes its result as an envelope. If the
// deadline passes first the caller gets a 408 and fn's late result is discarded.
func adapt(timeout time.Duration, fn apiFunc) http.HandlerFunc {
	type result struct {
		data any
		err  error
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		done := make(chan result, 1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					done <- result{err: fmt.Errorf("handler panic: %v", p)}
				}
			}()
			data, err := fn(r.WithContext(ctx))
			done <- result{data, err}
		}()

		select {
		case res := <-done:
			if res.err != nil {
				writeDomainError(w, res.err)
				return
			}
			writeJSON(w, http.StatusOK, Envelope{Success: true, Data: res.data, Timestamp: now()})
		case <-ctx.Done():
			writeError(w, http.StatusRequestTimeout, CodeTimeout,
				fmt.Sprintf("request exceeded %s", timeout), nil)
		}
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	var details map[string]any
	if c := domain.ErrorCodeOf(err); c != domain.CodeUnknown {
		details = map[string]any{"cause": string(c)}
	}
	writeError(w, status, code, msg, details)
}

func writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	writeJSON(w, status, Envelope{
		Error:     &APIError{Code: code, Message: msg, Details: details},
		Timestamp: now(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON body into v. Failures are input errors.
func decodeBody(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.NewDomainError("gateway.decode", domain.ErrInvalidInput, "request body is empty")
		}
		return domain.NewDomainError("gateway.decode", domain.ErrInvalidInput, err.Error())
	}
	return nil
}

func now() time.Time { return time.Now().UTC() }
