package server

import (
	"context"
	"net/http"

	"tailscale.com/client/tailscale/apitype"

	"github.com/claude/repcam/internal/session"
)

// taggedDevices is the login Tailscale reports for tagged nodes, which have no
// human owner.
const taggedDevices = "tagged-devices"

// WhoIser resolves a tailnet peer address to its owner.
type WhoIser interface {
	WhoIs(ctx context.Context, remoteAddr string) (*apitype.WhoIsResponse, error)
}

type contextKey int

const identityKey contextKey = iota

// SetTailscale resolves caller identities through Tailscale WhoIs.
func (s *Server) SetTailscale(who WhoIser) {
	s.who = who
}

// SetDevLogin attributes every request to login when Tailscale is not used.
func (s *Server) SetDevLogin(login string) {
	s.devLogin = login
}

// identify attaches the caller identity, if any, to the request context.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := s.lookupIdentity(r); id != nil {
			r = r.WithContext(withIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) lookupIdentity(r *http.Request) *session.Identity {
	if s.who != nil {
		resp, err := s.who.WhoIs(r.Context(), r.RemoteAddr)
		if err != nil {
			s.log.Debug("tailscale whois failed", "remote", r.RemoteAddr, "error", err)
			return nil
		}
		if resp == nil || resp.UserProfile == nil || resp.UserProfile.LoginName == taggedDevices {
			return nil
		}
		return &session.Identity{
			Login:       resp.UserProfile.LoginName,
			DisplayName: resp.UserProfile.DisplayName,
		}
	}
	if s.devLogin != "" {
		return &session.Identity{Login: s.devLogin, DisplayName: s.devLogin}
	}
	return nil
}

func withIdentity(ctx context.Context, id *session.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// identityFromContext returns the caller identity or nil when unauthenticated.
func identityFromContext(ctx context.Context) *session.Identity {
	id, _ := ctx.Value(identityKey).(*session.Identity)
	return id
}
