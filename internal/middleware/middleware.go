package middleware

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/nabachouhan/gatishakti3.0/internal/utils"
)

// TokenVerifier turns a bearer token into the caller's subject.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// HMACVerifier checks HS256 tokens signed with a shared secret. Tokens are
// issued elsewhere.
type HMACVerifier struct {
	Secret []byte
}

func (v HMACVerifier) Verify(token string) (string, error) {
	tok, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return v.Secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

func AuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || token == "" {
				utils.WriteMessage(w, http.StatusUnauthorized, "Missing bearer token")
				return
			}

			subject, err := verifier.Verify(token)
			if err != nil {
				utils.WriteMessage(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(utils.WithSubject(r.Context(), subject)))
		})
	}
}

// CORSMiddleware echoes only allow-listed origins. An empty list allows any
// origin without credentials.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:         300,
	}
	if len(origins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowCredentials = true
	}
	return cors.Handler(opts)
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware applies a per-client-IP token bucket. Rejected requests
// get 429 with Retry-After.
func RateLimitMiddleware(rps float64, burst int) func(http.Handler) http.Handler {
	var (
		mu      sync.Mutex
		clients = map[string]*clientLimiter{}
	)

	get := func(ip string, now time.Time) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		for k, c := range clients {
			if now.Sub(c.lastSeen) > 10*time.Minute {
				delete(clients, k)
			}
		}
		c, ok := clients[ip]
		if !ok {
			c = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			clients[ip] = c
		}
		c.lastSeen = now
		return c.limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := get(clientIP(r), time.Now()).Reserve()
			if !res.OK() {
				utils.WriteMessage(w, http.StatusTooManyRequests, "Too many uploads")
				return
			}
			if d := res.Delay(); d > 0 {
				res.Cancel()
				w.Header().Set("Retry-After", strconv.Itoa(int(d.Seconds())+1))
				utils.WriteMessage(w, http.StatusTooManyRequests, "Too many uploads")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP uses RemoteAddr only; chi's RealIP runs earlier when a trusted
// proxy sets the forwarding headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
