package middleware

import (
	"context"
	"net"
	"net/http"
)

type contextKey string

const clientIDKey contextKey = "client_id"

// SetClientID records the caller identity used for rate limiting.
func SetClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientIDKey, id)
}

// ClientID returns the identity set by Authenticate, if any.
func ClientID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(clientIDKey).(string)
	return id, ok && id != ""
}

// clientKey identifies the caller: the authenticated key when there is one,
// otherwise the remote IP.
func clientKey(r *http.Request) string {
	if id, ok := ClientID(r); ok {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
