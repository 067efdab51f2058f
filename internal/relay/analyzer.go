package relay

import (
	"time"

	"github.com/temoto/meshrelay/helpers"
	"github.com/temoto/meshrelay/identity"
	"github.com/temoto/meshrelay/token"
)

// Analyzer endpoints are fixed, only enable flag is configurable.
type AnalyzerRegion struct {
	Name     string
	URL      string
	Audience string
}

var (
	AnalyzerUS = AnalyzerRegion{
		Name:     "analyzer-us",
		URL:      "wss://mqtt-us-v1.letsmesh.net:443/mqtt",
		Audience: "mqtt-us-v1.letsmesh.net",
	}
	AnalyzerEU = AnalyzerRegion{
		Name:     "analyzer-eu",
		URL:      "wss://mqtt-eu-v1.letsmesh.net:443/mqtt",
		Audience: "mqtt-eu-v1.letsmesh.net",
	}
)

const RenewThrottle = 60 * time.Second

// AnalyzerUsername is what analyzers expect: v1_<PUBLIC KEY HEX>.
func AnalyzerUsername(id identity.Identity) string {
	return "v1_" + identity.PublicHex(id)
}

// analyzerAuth is token state of one analyzer destination.
// Token is bound to region audience and never given to another destination.
type analyzerAuth struct {
	region         AnalyzerRegion
	token          string
	claims         *token.Claims
	renewAttempted bool
	lastRenew      helpers.Millis
}

// renewDue combines expiry policy with attempt throttle.
func (a *analyzerAuth) renewDue(now helpers.Millis, wall time.Time, buffer time.Duration) bool {
	if a.token != "" && !a.claims.RenewalDue(wall, buffer) {
		return false
	}
	return !a.renewAttempted || now.Since(a.lastRenew) >= RenewThrottle
}

func (r *Relay) renewAnalyzers(now helpers.Millis) {
	for _, d := range r.dests {
		a := d.analyzer
		if a == nil || !d.usable {
			continue
		}
		wall := r.clock.WallNow()
		if !a.renewDue(now, wall, r.renewBuffer) {
			continue
		}
		a.renewAttempted = true
		a.lastRenew = now

		tok, claims, err := token.Issue(r.identity, token.Options{
			Audience: a.region.Audience,
			IssuedAt: wall,
			TTL:      r.tokenTTL,
			Owner:    r.ownerKey,
			Client:   r.clientVersion,
		})
		if err != nil {
			// keep stale token, retry after throttle
			r.stat.update(func(s *StatCounters) { s.TokenErrors++ })
			d.log.Errorf("token issue err=%v", err)
			continue
		}
		r.stat.update(func(s *StatCounters) { s.TokensIssued++ })
		a.token = tok
		a.claims = claims
		d.opt.Password = tok
		if claims.ExpiresAt < token.PlausibleUnix {
			d.log.Infof("token issued before clock sync, will renew")
		} else {
			d.log.Debugf("token issued exp=%s", claims.Expiry().UTC().Format(time.RFC3339))
		}
		d.reconnect(now)
	}
}
