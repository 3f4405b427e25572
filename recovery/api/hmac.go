package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// HMACHeaderKey is the header carrying the request MAC.
const HMACHeaderKey = "X-Recoveryd-Hmac"

// maxRequestBody bounds request bodies read for authentication.
const maxRequestBody = 1 << 20

// ComputeHMAC generates a base64 HMAC-SHA256 of the request body with the
// shared key. Clients put the result in HMACHeaderKey.
func ComputeHMAC(key string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)

	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// HMACMiddleware verifies the MAC of every incoming request body. Health
// checks bypass authentication, and an empty key disables it entirely.
func HMACMiddleware(key string, logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// NOTE: health checks stay unauthenticated so probes keep working
		if key == "" || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)

			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)

			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		received := r.Header.Get(HMACHeaderKey)
		if received == "" {
			logger.Warn("request rejected: HMAC not provided", zap.String("path", r.URL.Path))
			http.Error(w, "HMAC not provided", http.StatusUnauthorized)

			return
		}

		if !hmac.Equal([]byte(received), []byte(ComputeHMAC(key, body))) {
			logger.Warn("request rejected: invalid HMAC", zap.String("path", r.URL.Path))
			http.Error(w, "invalid HMAC", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}
