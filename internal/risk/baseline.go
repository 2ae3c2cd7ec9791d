package risk

import (
	"time"
)

// typingSpeedAlpha is the EMA weight given to the newest typing-speed
// sample when folding it into the behavioral baseline.
const typingSpeedAlpha = 0.3

// Absorb folds an accepted context into the trust profile. Called only on
// allowed (low-risk) evaluations, never on blocked or pending-verification
// paths. All updates are set-union / append semantics:
//
//   - the device fingerprint and IP are added if absent
//   - the location is appended unless an existing entry is within the
//     0.5 deg bounding box
//   - the typing-speed baseline moves toward the sample (EMA)
//   - the stored risk score is overwritten with the fresh rule count
func (p *TrustProfile) Absorb(c *Context, a *Assessment) {
	if c.Device != "" && !p.HasDevice(c.Device) {
		p.TrustedDevices = append(p.TrustedDevices, c.Device)
	}
	if c.IP != "" && !p.HasIP(c.IP) {
		p.TrustedIPs = append(p.TrustedIPs, c.IP)
	}
	if c.Location != nil && !p.MatchesLocation(c.Location) {
		p.Locations = append(p.Locations, GeoPoint{
			Lat: c.Location.Latitude,
			Lon: c.Location.Longitude,
		})
	}
	if c.TypingSpeed != nil {
		if p.Behavioral.TypingSpeed == nil {
			v := *c.TypingSpeed
			p.Behavioral.TypingSpeed = &v
		} else {
			v := typingSpeedAlpha**c.TypingSpeed + (1-typingSpeedAlpha)**p.Behavioral.TypingSpeed
			p.Behavioral.TypingSpeed = &v
		}
	}
	p.RiskScore = a.Increments
}

// AppendLog appends an audit-trail entry for an accepted context. The
// location name is resolved by the caller (reverse geocoding is I/O and
// stays out of this package); pass "Unknown" when resolution failed.
func (p *TrustProfile) AppendLog(c *Context, score int, locationName string, at time.Time) {
	entry := ContextLog{
		IP:        c.IP,
		Device:    c.Device,
		Timestamp: at,
		RiskScore: score,
	}
	if c.Location != nil {
		entry.Location = LoggedLocation{
			Lat:          c.Location.Latitude,
			Lon:          c.Location.Longitude,
			LocationName: locationName,
		}
	} else {
		entry.Location = LoggedLocation{LocationName: locationName}
	}
	p.ContextLogs = append(p.ContextLogs, entry)
}

// Seed initializes a fresh profile from the signup context: the first
// IP, device, and location are trusted outright and the typing baseline
// starts at the first sample.
func Seed(c *Context, locationName string, at time.Time) TrustProfile {
	p := TrustProfile{}
	if c.IP != "" {
		p.TrustedIPs = []string{c.IP}
	}
	if c.Device != "" {
		p.TrustedDevices = []string{c.Device}
	}
	if c.Location != nil {
		p.Locations = []GeoPoint{{Lat: c.Location.Latitude, Lon: c.Location.Longitude}}
	}
	if c.TypingSpeed != nil {
		v := *c.TypingSpeed
		p.Behavioral.TypingSpeed = &v
	}
	p.AppendLog(c, 0, locationName, at)
	return p
}
