package auth

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

// Caller is the identity a guarded request was admitted under. Local is set
// when the connection itself came from loopback or the unix socket; Operator
// is set when a bearer key was presented instead.
type Caller struct {
	Operator string
	Local    bool
}

// Name is the operator, or "local" for keyless loopback callers.
func (c Caller) Name() string {
	if c.Operator != "" {
		return c.Operator
	}
	return "local"
}

type callerKey struct{}

// CallerFrom returns the caller stored by Guard, if the request went
// through it.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// Guard wraps handlers that need an operator. A known bearer key always
// wins; without one, the request is admitted only if the keyring allows
// keyless local callers and the peer address is local. Forwarding headers
// are never consulted.
func Guard(ring *Keyring) func(http.Handler) http.Handler {
	if ring == nil {
		ring = defaultKeyring()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var c Caller
			if key, ok := bearerToken(r.Header.Get("Authorization")); ok {
				operator, known := ring.OperatorForKey(key)
				if !known {
					deny(w)
					return
				}
				c.Operator = operator
			} else if !ring.AllowLocalhostWithoutAuth || !localPeer(r.RemoteAddr) {
				deny(w)
				return
			}
			c.Local = localPeer(r.RemoteAddr)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func deny(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="guidpatch"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}

// localPeer reports whether remoteAddr, as set by net/http from the accepted
// connection, is a loopback address. Unix socket peers have no address and
// are gated by the socket file's permissions.
func localPeer(remoteAddr string) bool {
	if remoteAddr == "" || remoteAddr == "@" {
		return true
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
