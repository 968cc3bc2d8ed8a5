// Package auth authenticates the HTTP surface with a static X-API-Key
// table, the shape spec §6 names (the teacher authenticates with bearer
// JWTs over its richer multi-tenant gateway; this product's surface is
// simpler, so the middleware shape is kept and the validation swapped from
// token parsing to a constant-time key lookup).
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

type contextKey string

const principalContextKey contextKey = "auth_principal"

// Principal identifies the caller an API key resolved to.
type Principal struct {
	KeyLabel string
}

// Validator authenticates X-API-Key headers against a static table mapping
// key value to a human-readable label (e.g. "coris-money-mobile").
type Validator struct {
	keys map[string]string
}

// NewValidator builds a Validator from a label->key map.
func NewValidator(labelsToKeys map[string]string) *Validator {
	v := &Validator{keys: make(map[string]string, len(labelsToKeys))}
	for label, key := range labelsToKeys {
		if key == "" {
			continue
		}
		v.keys[key] = label
	}
	return v
}

// Authenticate looks up key, comparing in constant time against every
// configured key so a valid key's position in the table isn't inferable
// from response latency.
func (v *Validator) Authenticate(key string) (Principal, bool) {
	if key == "" {
		return Principal{}, false
	}
	var match string
	found := false
	for configured, label := range v.keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(configured)) == 1 {
			match = label
			found = true
		}
	}
	return Principal{KeyLabel: match}, found
}

// Middleware rejects requests missing a valid X-API-Key header with 401.
func Middleware(v *Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := v.Authenticate(r.Header.Get("X-API-Key"))
			if !ok {
				writeUnauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext extracts the authenticated Principal, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "missing or invalid X-API-Key"})
}
