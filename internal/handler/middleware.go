package handler

import (
	"net/http"
	"time"

	"github.com/ClareAI/astra-call-agent/pkg/logger"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

// GlobalLoggingMiddleware logs all HTTP requests.
func GlobalLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		logger.Base().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.RequestURI),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

// CORSMiddleware adds CORS headers to all requests.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// APIKeyMiddleware validates an HS256 JWT from the X-API-Key header for the
// operator control surface. When no secret key is configured the middleware
// passes everything through (development mode).
func APIKeyMiddleware(secretKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secretKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			jwtToken := r.Header.Get("X-API-Key")
			if jwtToken == "" {
				logger.Base().Warn("missing api key",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr))
				sendUnauthorized(w, "missing key")
				return
			}

			token, err := jwt.Parse(jwtToken, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				if alg, ok := token.Header["alg"].(string); !ok || alg != "HS256" {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secretKey), nil
			})
			if err != nil || !token.Valid {
				logger.Base().Warn("invalid api key",
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err))
				sendUnauthorized(w, "invalid key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func sendUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error": "` + msg + `"}`))
}
