package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderSignature = "X-Request-Signature"
	HeaderTimestamp = "X-Request-Timestamp"
	HeaderNonce     = "X-Request-Nonce"
)

var (
	ErrMissingSignature = errors.New("missing request signature")
	ErrMissingTimestamp = errors.New("missing request timestamp")
	ErrMissingNonce     = errors.New("missing or oversized request nonce")
	ErrStaleTimestamp   = errors.New("stale request timestamp")
	ErrInvalidSignature = errors.New("invalid request signature")
)

const (
	// maxBodyBytes bounds how much of a request body is buffered for signing.
	maxBodyBytes = 1 << 20
	maxNonceLen  = 128
)

func checkTimestamp(r *http.Request, now time.Time, maxSkew time.Duration) (string, error) {
	tsHeader := r.Header.Get(HeaderTimestamp)
	if tsHeader == "" {
		return "", ErrMissingTimestamp
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return "", ErrMissingTimestamp
	}
	reqTime := time.Unix(ts, 0)
	if now.Sub(reqTime) > maxSkew || reqTime.Sub(now) > maxSkew {
		return "", ErrStaleTimestamp
	}
	return tsHeader, nil
}

func checkNonce(r *http.Request) (string, error) {
	nonce := r.Header.Get(HeaderNonce)
	if nonce == "" || len(nonce) > maxNonceLen {
		return "", ErrMissingNonce
	}
	return nonce, nil
}

// canonical is the byte string both signing schemes cover.
func canonical(method, path, timestamp, nonce string, body []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(method) + len(path) + len(timestamp) + len(nonce) + len(body) + 4)
	buf.WriteString(method)
	buf.WriteByte('\n')
	buf.WriteString(path)
	buf.WriteByte('\n')
	buf.WriteString(timestamp)
	buf.WriteByte('\n')
	buf.WriteString(nonce)
	buf.WriteByte('\n')
	buf.Write(body)
	return buf.Bytes()
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeRejection answers a failed authentication in the same JSON shape the
// API uses for ledger errors.
func writeRejection(w http.ResponseWriter, status int, err error) {
	kind := "Unauthorized"
	if errors.Is(err, ErrReplayCacheFull) {
		status, kind = http.StatusServiceUnavailable, "Unavailable"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: kind, Message: err.Error()})
}

// readBody drains the body and puts an identical reader back for the handler.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte{}, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		return nil, errors.New("request body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func clock(now func() time.Time) time.Time {
	if now != nil {
		return now()
	}
	return time.Now()
}
