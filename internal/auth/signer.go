package auth

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

type signerKey struct{}

// SignerVerifier authenticates callers by a secp256k1 signature over the
// request. The recovered public key, hashed, is the caller identity that the
// ledger compares against escrow owners. Each signed request is accepted
// once; Replay defaults to a guard covering twice MaxSkew.
type SignerVerifier struct {
	MaxSkew time.Duration
	Now     func() time.Time
	Replay  *ReplayGuard

	once sync.Once
}

func (v *SignerVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := v.verify(r)
		if err != nil {
			writeRejection(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSigner(r.Context(), id)))
	})
}

func (v *SignerVerifier) verify(r *http.Request) (common.Hash, error) {
	sigHex := r.Header.Get(HeaderSignature)
	if sigHex == "" {
		return common.Hash{}, ErrMissingSignature
	}
	now := clock(v.Now)
	ts, err := checkTimestamp(r, now, v.MaxSkew)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := checkNonce(r)
	if err != nil {
		return common.Hash{}, err
	}
	sig, err := hex.DecodeString(trimHexPrefix(sigHex))
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Hash{}, ErrInvalidSignature
	}
	body, err := readBody(r)
	if err != nil {
		return common.Hash{}, err
	}
	digest := requestDigest(r.Method, r.URL.Path, ts, nonce, body)
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Hash{}, ErrInvalidSignature
	}
	id := Identity(pub)
	// Keyed on what was signed rather than the signature bytes, which a
	// third party can re-encode without the key.
	if err := v.replayGuard().Observe(crypto.Keccak256Hash(digest, id.Bytes()), now); err != nil {
		return common.Hash{}, err
	}
	return id, nil
}

func (v *SignerVerifier) replayGuard() *ReplayGuard {
	v.once.Do(func() {
		if v.Replay == nil {
			v.Replay = NewReplayGuard(replayWindow(v.MaxSkew), 0)
		}
	})
	return v.Replay
}

func requestDigest(method, path, timestamp, nonce string, body []byte) []byte {
	return crypto.Keccak256(canonical(method, path, timestamp, nonce, body))
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// Identity is the 32-byte caller id of a public key: the Keccak-256 hash of
// its uncompressed encoding without the 0x04 prefix.
func Identity(pub *ecdsa.PublicKey) common.Hash {
	return crypto.Keccak256Hash(crypto.FromECDSAPub(pub)[1:])
}

// SignRequest stamps req with a timestamp, a fresh nonce and a signature by
// key over body. The caller must still attach body to the request.
func SignRequest(req *http.Request, key *ecdsa.PrivateKey, body []byte, at time.Time) error {
	ts := strconv.FormatInt(at.Unix(), 10)
	nonce := uuid.NewString()
	sig, err := crypto.Sign(requestDigest(req.Method, req.URL.Path, ts, nonce, body), key)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, "0x"+hex.EncodeToString(sig))
	return nil
}

func WithSigner(ctx context.Context, id common.Hash) context.Context {
	return context.WithValue(ctx, signerKey{}, id)
}

// SignerFrom returns the identity the middleware attached to ctx.
func SignerFrom(ctx context.Context) (common.Hash, bool) {
	id, ok := ctx.Value(signerKey{}).(common.Hash)
	return id, ok
}
