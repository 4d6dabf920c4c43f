package telemetry

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClientClaims is the minimal shape of the join token a client presents,
// already issued and verified by the (out-of-scope, per spec.md Non-goals)
// tenant auth service; Scribe only needs the claims to stamp into its own
// client-join telemetry, plus the parse itself to time.
type ClientClaims struct {
	jwt.RegisteredClaims
	DocumentId string `json:"documentId"`
}

// VerifyTokenDuration parses token's claims without verifying a signature
// (Scribe trusts its upstream to have already done so; see spec.md's
// tenant-authentication Non-goal) and records how long that took, per
// spec.md §4.E's "verify-token durations" metric.
func (m *Metrics) VerifyTokenDuration(token string) (ClientClaims, error) {
	var start = time.Now()
	defer func() { m.VerifyTokenSeconds.Observe(time.Since(start).Seconds()) }()

	var claims ClientClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return ClientClaims{}, fmt.Errorf("parsing client token: %w", err)
	}
	return claims, nil
}
