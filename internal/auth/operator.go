package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

var ErrOperatorDisabled = errors.New("operator access is not configured")

// OperatorVerifier guards operator routes with an HMAC-SHA256 over the
// request. With no secret configured every request is refused. Like signed
// requests, each operator request is accepted once.
type OperatorVerifier struct {
	Secret  string
	MaxSkew time.Duration
	Now     func() time.Time
	Replay  *ReplayGuard

	once sync.Once
}

func (v *OperatorVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := v.verify(r); err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrOperatorDisabled) {
				status = http.StatusForbidden
			}
			writeRejection(w, status, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (v *OperatorVerifier) verify(r *http.Request) error {
	if v.Secret == "" {
		return ErrOperatorDisabled
	}
	sig := r.Header.Get(HeaderSignature)
	if sig == "" {
		return ErrMissingSignature
	}
	now := clock(v.Now)
	ts, err := checkTimestamp(r, now, v.MaxSkew)
	if err != nil {
		return err
	}
	nonce, err := checkNonce(r)
	if err != nil {
		return err
	}
	body, err := readBody(r)
	if err != nil {
		return err
	}
	expected := OperatorSignature(v.Secret, r.Method, r.URL.Path, ts, nonce, body)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
		return ErrInvalidSignature
	}
	return v.replayGuard().Observe(crypto.Keccak256Hash([]byte("operator"), []byte(expected)), now)
}

func (v *OperatorVerifier) replayGuard() *ReplayGuard {
	v.once.Do(func() {
		if v.Replay == nil {
			v.Replay = NewReplayGuard(replayWindow(v.MaxSkew), 0)
		}
	})
	return v.Replay
}

// OperatorSignature is the lowercase hex HMAC an operator request carries.
func OperatorSignature(secret, method, path, timestamp, nonce string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical(method, path, timestamp, nonce, body))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignOperatorRequest stamps req for an operator route.
func SignOperatorRequest(req *http.Request, secret string, body []byte, at time.Time) {
	ts := strconv.FormatInt(at.Unix(), 10)
	nonce := uuid.NewString()
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, OperatorSignature(secret, req.Method, req.URL.Path, ts, nonce, body))
}
