package middleware

import "net/http"

// SecureHeaders adds standard security headers.
func SecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		// Geolocation stays available to the app itself for geopoint fields.
		w.Header().Set("Permissions-Policy", "camera=(self), microphone=(), geolocation=(self)")
		next.ServeHTTP(w, r)
	})
}
