package rest

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lingkarclub/access-engine/internal/domain"
	"github.com/lingkarclub/access-engine/internal/security"
)

type AuthOptions struct {
	// If set (non-empty), enforce exact issuer match.
	ExpectedIssuer string
}

func AuthMiddleware(verifier security.AccessTokenVerifier, opt AuthOptions) func(next http.Handler) http.Handler {
	if verifier == nil {
		panic("AuthMiddleware: nil verifier")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth, ok := verifyBearer(r, verifier, opt)
			if !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(withAuth(r.Context(), auth)))
		})
	}
}

// OptionalAuthMiddleware resolves the caller when a bearer token is
// present and valid, and lets the request through anonymously otherwise.
// Drop and gathering views redact per layer, so an invalid token simply
// degrades to the outside view instead of failing the read.
func OptionalAuthMiddleware(verifier security.AccessTokenVerifier, opt AuthOptions) func(next http.Handler) http.Handler {
	if verifier == nil {
		panic("OptionalAuthMiddleware: nil verifier")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth, ok := verifyBearer(r, verifier, opt); ok {
				r = r.WithContext(withAuth(r.Context(), auth))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func verifyBearer(r *http.Request, verifier security.AccessTokenVerifier, opt AuthOptions) (AuthContext, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return AuthContext{}, false
	}

	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return AuthContext{}, false
	}

	raw := strings.TrimSpace(parts[1])
	if raw == "" {
		return AuthContext{}, false
	}

	claims, err := verifier.VerifyAccessToken(raw)
	if err != nil {
		// Expired vs invalid could carry different messages; the result
		// is identical either way.
		return AuthContext{}, false
	}

	if opt.ExpectedIssuer != "" && claims.Issuer != opt.ExpectedIssuer {
		return AuthContext{}, false
	}

	if strings.TrimSpace(claims.UserID) == "" {
		return AuthContext{}, false
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return AuthContext{}, false
	}

	return AuthContext{
		UserID: uid,
		Role:   strings.TrimSpace(claims.Role),
	}, true
}

func RateLimitMiddleware(cache domain.CacheRepository, limit int, window time.Duration) func(next http.Handler) http.Handler {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			allowed, _ := cache.AllowRequest(r.Context(), ip, limit, window)
			if !allowed {
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP keeps it simple: RemoteAddr host part.
// If you are behind a trusted reverse proxy, you may choose to trust X-Forwarded-For,
// but doing so blindly is a spoofing risk.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CSP for API: restrictive policy suitable for JSON-only endpoints
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'")

		// HSTS: Enforce HTTPS for 1 year, include subdomains
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking (redundant with CSP frame-ancestors, but belt-and-suspenders)
		w.Header().Set("X-Frame-Options", "DENY")

		// XSS protection (legacy but harmless)
		w.Header().Set("X-XSS-Protection", "1; mode=block")

		// Don't leak referrer to external sites
		w.Header().Set("Referrer-Policy", "no-referrer")

		// Prevent cross-origin resource embedding
		w.Header().Set("Cross-Origin-Resource-Policy", "same-site")

		// Prevent window.opener access from cross-origin windows
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		// Disable all browser features for API endpoints
		w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=(), usb=(), bluetooth=()")

		next.ServeHTTP(w, r)
	})
}
