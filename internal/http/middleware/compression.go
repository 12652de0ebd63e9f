package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForMedia wraps a compression middleware handler so transcode outputs
// and range requests are served as-is. Media is already compressed, and compressing a
// byte range would break the Content-Range the client asked for.
func SkipCompressionForMedia(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Range") != "" || strings.HasSuffix(r.URL.Path, "/output") {
				next.ServeHTTP(w, r)
				return
			}
			compressedHandler.ServeHTTP(w, r)
		})
	}
}
