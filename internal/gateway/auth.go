package gateway

import (
	"os"

	"github.com/afs-fleetpro/comms/internal/config"
)

// TokenResolver maps a realtime auth token to a user identity. The demo
// resolver accepts any non-empty token; a JWT validator slots in behind
// the same contract without touching the session code.
type TokenResolver interface {
	// Resolve returns the user id for a token, or ok=false when the token
	// is missing or invalid.
	Resolve(token string) (userID string, ok bool)
}

// DemoResolver is the stub identity resolver matching the upstream
// deployment: token presence is checked, identity is fixed.
type DemoResolver struct {
	UserID string
}

// NewDemoResolver builds the resolver from config, honoring the
// COMMS_DEMO_USER override.
func NewDemoResolver(cfg config.AuthConfig) *DemoResolver {
	user := cfg.DemoUser
	if v := os.Getenv("COMMS_DEMO_USER"); v != "" {
		user = v
	}
	if user == "" {
		user = "demo-user"
	}
	return &DemoResolver{UserID: user}
}

// Resolve rejects empty tokens and maps everything else to the demo user.
func (d *DemoResolver) Resolve(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	return d.UserID, true
}
