package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestSignerMiddleware_AttachesIdentity(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1_700_000_000, 0)
	body := `{"orderId":"7"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/primary/escrows", strings.NewReader(body))
	if err := SignRequest(req, key, []byte(body), now); err != nil {
		t.Fatal(err)
	}

	v := &SignerVerifier{MaxSkew: time.Minute, Now: func() time.Time { return now }}
	var (
		got     common.Hash
		gotBody string
	)
	rec := httptest.NewRecorder()
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := SignerFrom(r.Context())
		if !ok {
			t.Fatal("signer missing from context")
		}
		got = id
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if want := Identity(&key.PublicKey); got != want {
		t.Fatalf("identity = %s, want %s", got.Hex(), want.Hex())
	}
	if gotBody != body {
		t.Fatalf("handler saw body %q", gotBody)
	}
}

func TestSignerMiddleware_RejectsTamperedRequests(t *testing.T) {
	key, _ := crypto.GenerateKey()
	now := time.Unix(1_700_000_000, 0)
	v := &SignerVerifier{MaxSkew: time.Minute, Now: func() time.Time { return now }}

	cases := map[string]func() *http.Request{
		"body changed": func() *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"amount":"2"}`))
			_ = SignRequest(req, key, []byte(`{"amount":"1"}`), now)
			return req
		},
		"path changed": func() *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{}`))
			_ = SignRequest(req, key, []byte(`{}`), now)
			req.URL.Path = "/y"
			return req
		},
		"stale": func() *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{}`))
			_ = SignRequest(req, key, []byte(`{}`), now.Add(-time.Hour))
			return req
		},
		"garbage signature": func() *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{}`))
			req.Header.Set(HeaderTimestamp, strconv.FormatInt(now.Unix(), 10))
			req.Header.Set(HeaderSignature, "0xdeadbeef")
			return req
		},
		"unsigned": func() *http.Request {
			return httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{}`))
		},
	}

	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			var seen common.Hash
			v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen, _ = SignerFrom(r.Context())
				w.WriteHeader(http.StatusOK)
			})).ServeHTTP(rec, build())

			// A tampered but well-formed signature recovers some other key, so
			// the request passes with an identity that is not the signer's.
			if rec.Code == http.StatusOK && seen == Identity(&key.PublicKey) {
				t.Fatalf("tampered request authenticated as the signer")
			}
			if name == "stale" || name == "garbage signature" || name == "unsigned" {
				if rec.Code != http.StatusUnauthorized {
					t.Fatalf("expected 401, got %d", rec.Code)
				}
			}
		})
	}
}
