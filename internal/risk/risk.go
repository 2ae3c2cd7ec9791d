// Package risk implements context-aware authentication risk scoring.
//
// Every login and transaction request carries a bundle of client-observed
// signals (network address, device fingerprint, geolocation, keystroke
// timing, cursor activity, tab switches, rendering stability). Each signal
// is checked against the user's persisted trust profile; every check that
// fails adds one point. The resulting score gates three outcomes: allow,
// require step-up verification, or block-and-alert.
package risk

import (
	"time"
)

// Decision is the verdict derived from a risk score.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionStepUp Decision = "step_up"
	DecisionBlock  Decision = "block"
)

// Scoring thresholds.
const (
	// BlockThreshold blocks the request outright and triggers an alert.
	BlockThreshold = 10
	// StepUpThreshold requires a one-time code before proceeding.
	StepUpThreshold = 5
	// StepUpAmountFloor is the transfer amount above which a medium-risk
	// transaction requires step-up. Below it, medium risk proceeds.
	StepUpAmountFloor = 10000
)

// Coordinates is a client-reported geolocation fix.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CursorSample is a single cursor position observation. Only the count of
// samples feeds the score; individual points are not analyzed.
type CursorSample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T int64   `json:"t"`
}

// Context is the signal bundle submitted with a request. Optional fields
// are pointers: a nil value means the client did not (or could not) report
// the signal, which degrades to a risk contribution rather than an error.
type Context struct {
	IP              string         `json:"ip"`
	Device          string         `json:"device"`
	Browser         string         `json:"browser"`
	LoginTime       time.Time      `json:"loginTime"`
	Location        *Coordinates   `json:"location"`
	TypingSpeed     *float64       `json:"typingSpeed"`
	CursorMovements []CursorSample `json:"cursorMovements"`
	TabSwitches     *int           `json:"tabSwitches"`
	ScreenFPSDrops  *int           `json:"screenFPSDrops"`
}

// GeoPoint is a previously accepted location in the trust profile.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// LoggedLocation is the resolved location stored in the audit trail.
type LoggedLocation struct {
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	LocationName string  `json:"locationName"`
}

// ContextLog is one audit-trail entry. Append-only.
type ContextLog struct {
	IP        string         `json:"ip"`
	Device    string         `json:"device"`
	Location  LoggedLocation `json:"location"`
	Timestamp time.Time      `json:"timestamp"`
	RiskScore int            `json:"riskScore"`
}

// BehavioralProfile holds learned behavioral baselines.
type BehavioralProfile struct {
	// TypingSpeed is the mean inter-keystroke interval in milliseconds,
	// maintained as an exponential moving average across accepted logins.
	TypingSpeed *float64 `json:"typingSpeed"`
}

// TrustProfile is the persisted per-user behavioral baseline. It is
// mutated only by Absorb/AppendLog (on accepted requests) and by initial
// signup seeding.
type TrustProfile struct {
	TrustedIPs     []string          `json:"trustedIPs"`
	TrustedDevices []string          `json:"trustedDevices"`
	Locations      []GeoPoint        `json:"locations"`
	Behavioral     BehavioralProfile `json:"behavioralProfile"`
	ContextLogs    []ContextLog      `json:"contextLogs"`

	// RiskScore is the score recorded by the most recent accepted
	// evaluation. It is an audit figure, not a running sum: Absorb
	// overwrites it with the fresh rule count each time, so scores do
	// not ratchet upward across sessions.
	RiskScore int `json:"riskScore"`
}

// HasDevice reports whether the device fingerprint is trusted.
func (p *TrustProfile) HasDevice(device string) bool {
	for _, d := range p.TrustedDevices {
		if d == device {
			return true
		}
	}
	return false
}

// HasIP reports whether the address is trusted.
func (p *TrustProfile) HasIP(ip string) bool {
	for _, a := range p.TrustedIPs {
		if a == ip {
			return true
		}
	}
	return false
}

// MatchesLocation reports whether loc falls inside the coarse bounding box
// (0.5 deg latitude AND 0.5 deg longitude) of any known location.
func (p *TrustProfile) MatchesLocation(loc *Coordinates) bool {
	if loc == nil {
		return false
	}
	for _, known := range p.Locations {
		if abs(known.Lat-loc.Latitude) < GeoBoxDegrees && abs(known.Lon-loc.Longitude) < GeoBoxDegrees {
			return true
		}
	}
	return false
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
