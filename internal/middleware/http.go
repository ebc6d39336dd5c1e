package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
)

// Wrap runs a net/http middleware inside a gin chain. The gin chain only
// continues if the wrapped middleware calls its next handler.
func Wrap(mw func(http.Handler) http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		called := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			c.Request = r
			c.Next()
		})
		mw(next).ServeHTTP(c.Writer, c.Request)
		if !called {
			c.Abort()
		}
	}
}

// CORS allows the configured browser origins with credentials, so the
// session cookie is sent on cross-origin requests.
func CORS(origins []string) gin.HandlerFunc {
	return Wrap(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// RateLimit limits requests per authenticated user, or per client IP
// before authentication.
func RateLimit(requestLimit int, windowLength time.Duration) gin.HandlerFunc {
	retryAfter := strconv.Itoa(int(windowLength.Seconds()))
	return Wrap(httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if id := UserIDFromContext(r.Context()); id != uuid.Nil {
				return "user:" + id.String(), nil
			}
			ip, err := httprate.KeyByIP(r)
			if err != nil {
				return "", err
			}
			return "ip:" + ip, nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"success":false,"message":"rate limit exceeded"}`))
		}),
	))
}
