package main

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"limitvault/internal/auth"
)

var httpClient = &http.Client{Timeout: 15 * time.Second}

func sendSigned(ctx *cli.Context, method, path string, body map[string]string) error {
	key, err := loadKey(ctx)
	if err != nil {
		return err
	}
	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	return send(ctx, method, path, payload, key)
}

// send issues the request, signing it when key is set, and prints the
// response body. Non-2xx responses are returned as errors.
func send(ctx *cli.Context, method, path string, body []byte, key *ecdsa.PrivateKey) error {
	url := strings.TrimRight(ctx.String(urlFlag.Name), "/") + path
	req, err := http.NewRequestWithContext(ctx.Context, strings.ToUpper(method), url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if k := ctx.String(idempotencyFlag.Name); k != "" {
		req.Header.Set("X-Idempotency-Key", k)
	}
	if key != nil {
		if err := auth.SignRequest(req, key, body, time.Now()); err != nil {
			return err
		}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: %s: %s", req.Method, path, resp.Status, strings.TrimSpace(string(out)))
	}
	_, err = ctx.App.Writer.Write(out)
	return err
}
