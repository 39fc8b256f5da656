package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/finscan/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefixLen is the length of the plaintext key prefix stored next to each hash.
const KeyPrefixLen = 8

// Auth checks API keys against bcrypt hashes indexed by key prefix, so a request
// costs at most one comparison per key sharing its prefix.
type Auth struct {
	hashes map[string][][]byte
}

// KeyEntry formats a key's hash as a FINSCAN_API_KEY_HASHES entry: <prefix>:<hash>.
func KeyEntry(rawKey, hash string) string {
	return rawKey[:KeyPrefixLen] + ":" + hash
}

// NewAuth creates a new Auth middleware from <prefix>:<bcrypt hash> entries.
// Blank entries are skipped; with none left, authentication is disabled.
func NewAuth(entries []string) (*Auth, error) {
	a := &Auth{hashes: make(map[string][][]byte)}
	for i, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		prefix, hash, ok := strings.Cut(e, ":")
		if !ok || len(prefix) != KeyPrefixLen {
			return nil, fmt.Errorf("api key entry %d: want <%d-char key prefix>:<bcrypt hash>", i, KeyPrefixLen)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("api key entry %d: %w", i, err)
		}
		a.hashes[prefix] = append(a.hashes[prefix], []byte(hash))
	}
	return a, nil
}

func (a *Auth) Enabled() bool { return len(a.hashes) > 0 }

// Authenticate validates the Bearer token (or X-API-Key header) and sets the
// client id in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		rawKey := extractAPIKey(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if len(rawKey) < KeyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key format", nil)
			return
		}

		prefix := rawKey[:KeyPrefixLen]
		for _, hash := range a.hashes[prefix] {
			if bcrypt.CompareHashAndPassword(hash, []byte(rawKey)) == nil {
				ctx := SetClientID(r.Context(), "key:"+prefix)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}

		response.Error(w, http.StatusUnauthorized,
			"INVALID_TOKEN", "Invalid API key", nil)
	})
}

func extractAPIKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get("X-API-Key")); k != "" {
		return k
	}

	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
