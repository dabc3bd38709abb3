// Package server provides shared middleware for the HTTP API.
package server

import (
	"net/http"
	"path/filepath"
	"strings"
)

// AbsPath returns the absolute path of a file, or the original path if it fails.
func AbsPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// CORSConfig holds CORS middleware configuration.
type CORSConfig struct {
	AllowedOrigins []string // List of allowed origins, empty = allow all (*)
}

// IsOriginAllowed reports whether origin matches one of the patterns.
// Patterns are exact origins, "*" or a "*.example.com" subdomain wildcard.
// An empty origin never matches.
func IsOriginAllowed(origin string, patterns []string) bool {
	if origin == "" {
		return false
	}
	for _, p := range patterns {
		switch {
		case p == "*":
			return true
		case p == origin:
			return true
		case strings.HasPrefix(p, "*."):
			// Keep the leading dot so "evil-example.com" does not match "*.example.com".
			if strings.HasSuffix(origin, p[1:]) {
				return true
			}
		}
	}
	return false
}

// CORSMiddlewareWithConfig adds CORS headers to responses with configurable origins.
// If AllowedOrigins is empty, it defaults to "*" (allow all origins).
// Requests from origins outside the list get no CORS headers, and their
// preflights are refused.
func CORSMiddlewareWithConfig(cfg CORSConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigin := "*"
		if len(cfg.AllowedOrigins) > 0 {
			origin := r.Header.Get("Origin")
			if !IsOriginAllowed(origin, cfg.AllowedOrigins) {
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			allowedOrigin = origin
			w.Header().Add("Vary", "Origin")
		}

		w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, If-Match, X-Request-ID")
		w.Header().Set("Access-Control-Expose-Headers", "ETag, X-Request-ID")

		// Only set Allow-Credentials if origin is not "*"
		if allowedOrigin != "*" {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
