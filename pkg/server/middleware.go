package server

import (
	"bytes"
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/confide-ai/confide/config"
	"github.com/confide-ai/confide/pkg/auth"
)

const versionHeader = "X-Confide-Version"

// SignatureHeader carries the HMAC signature the assistant runtime computes
// over the raw tool request body.
const SignatureHeader = "OpenAI-Signature"

// TypebotKeyHeader carries the shared secret presented by the Typebot
// frontend.
const TypebotKeyHeader = "X-Typebot-Key"

// SendVersion is a middleware that adds the current version to the response
func SendVersion(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if w.Header().Get(versionHeader) == "" {
			w.Header().Add(
				versionHeader,
				config.VersionString,
			)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	}
	return http.HandlerFunc(fn)
}

// TypebotKeyAuth rejects requests whose X-Typebot-Key header does not match
// the configured shared secret. The check is disabled when no secret is
// configured.
func TypebotKeyAuth(cfg *config.Config) func(http.Handler) http.Handler {
	secret := []byte(cfg.Typebot.Secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			key := []byte(r.Header.Get(TypebotKeyHeader))
			if subtle.ConstantTimeCompare(key, secret) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SignatureVerifier verifies the OpenAI-Signature header against the raw
// request body. Verification is skipped when no signing key is configured.
func SignatureVerifier(cfg *config.Config) func(http.Handler) http.Handler {
	signingKey := []byte(cfg.OpenAI.SigningKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(signingKey) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				renderError(w, err, http.StatusBadRequest)
				return
			}
			_ = r.Body.Close()

			if !auth.VerifySignature(signingKey, body, r.Header.Get(SignatureHeader)) {
				http.Error(w, "invalid signature", http.StatusForbidden)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
