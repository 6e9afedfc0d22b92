package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"limitvault/internal/auth"
	"limitvault/internal/escrow"
	"limitvault/internal/idempotency"
)

const headerIdempotencyKey = "X-Idempotency-Key"

// call carries what every mutating handler needs.
type call struct {
	entry  *escrow.Entry
	caller common.Hash
	req    *http.Request
	body   []byte
}

// mutation performs one ledger operation and returns the success status and
// the value to encode.
type mutation func(ctx context.Context, c call) (int, any, error)

// mutate wraps a mutation with idempotent replay, error mapping and metrics.
// Only successful responses are stored, so a failed call can be retried with
// the same key.
func (s *Server) mutate(op string, fn mutation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		entry := entryFrom(ctx)
		domain := entry.Domain().String()
		caller, ok := auth.SignerFrom(ctx)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Unauthorized", Message: "unsigned request"})
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			s.fail(w, r, op, domain, start, invalidArgument("read body: %v", err))
			return
		}

		key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
		var fingerprint string
		if key != "" {
			key = idempotency.Key(caller.Hex(), key)
			fingerprint = idempotency.Fingerprint(r.Method, r.URL.Path, body)
			unlock := s.inflight.lock(key)
			defer unlock()

			existing, err := idempotency.Lookup(ctx, s.store, key, fingerprint)
			if errors.Is(err, idempotency.ErrFingerprintMismatch) {
				writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "IdempotencyKeyReused", Message: err.Error()})
				return
			}
			if err != nil {
				s.logger.Warn("idempotency lookup failed", "op", op, "error", err)
			}
			if existing != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(existing.StatusCode)
				_, _ = w.Write(existing.Response)
				s.metrics.incReplay(op)
				return
			}
		}

		status, out, err := fn(ctx, call{entry: entry, caller: caller, req: r, body: body})
		if err != nil {
			s.fail(w, r, op, domain, start, err)
			return
		}

		payload, err := json.Marshal(out)
		if err != nil {
			s.fail(w, r, op, domain, start, err)
			return
		}
		if key != "" {
			now := s.now()
			rec := idempotency.Record{
				Fingerprint: fingerprint,
				StatusCode:  status,
				Response:    payload,
				CreatedAt:   now,
				ExpiresAt:   now.Add(s.cfg.Service.IdempotencyWindow),
			}
			if err := s.store.Save(ctx, key, rec); err != nil {
				s.logger.Warn("idempotency save failed", "op", op, "error", err)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(append(payload, '\n'))
		s.metrics.observe(op, domain, "ok", time.Since(start))
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op, domain string, start time.Time, err error) {
	kind := escrow.Kind(err)
	status := statusFor(kind)
	s.metrics.observe(op, domain, kind, time.Since(start))
	attrs := []any{"op", op, "domain", domain, "kind", kind, "error", err, "request_id", r.Header.Get(headerRequestID)}
	if status >= http.StatusInternalServerError {
		s.logger.Error("escrow operation failed", attrs...)
	} else {
		s.logger.Debug("escrow operation rejected", attrs...)
	}
	message := err.Error()
	if kind == "Internal" {
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: kind, Message: message})
}

// decode strictly reads the JSON body of c into v.
func (c call) decode(v any) error {
	dec := json.NewDecoder(bytes.NewReader(c.body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalidArgument("invalid json payload: %v", err)
	}
	return nil
}

// keyLocks serialises requests that share an idempotency key.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
