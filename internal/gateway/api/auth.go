package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// extractCredential pulls the bearer credential from the Authorization
// header first, then falls back to the api_key query parameter, mirroring
// qrng-gateway's extract_api_key order of precedence.
func extractCredential(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if cred, ok := strings.CutPrefix(auth, "Bearer "); ok && cred != "" {
			return cred, true
		}
	}
	if cred := r.URL.Query().Get("api_key"); cred != "" {
		return cred, true
	}
	return "", false
}

// isKnownPrincipal reports whether credential matches one of the
// configured principals, comparing in constant time so early rejection
// never leaks how many characters matched.
func isKnownPrincipal(principals []string, credential string) bool {
	found := false
	for _, p := range principals {
		if subtle.ConstantTimeCompare([]byte(p), []byte(credential)) == 1 {
			found = true
		}
	}
	return found
}
