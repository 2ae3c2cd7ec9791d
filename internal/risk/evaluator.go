package risk

import (
	"time"
)

// Rule constants.
const (
	// Logins outside [DayStartHour, DayEndHour] local time add risk.
	DayStartHour = 6
	DayEndHour   = 22

	// GeoBoxDegrees is the half-width of the location match bounding box.
	GeoBoxDegrees = 0.5

	// MinTypingIntervalMS is the minimum credible mean inter-keystroke
	// interval. Faster (or missing) typing adds risk.
	MinTypingIntervalMS = 200

	// MinCursorSamples is the minimum cursor activity expected from a
	// human session.
	MinCursorSamples = 10

	// MaxTabSwitches and MaxFPSDrops cap the tolerated values before the
	// respective rules fail.
	MaxTabSwitches = 1
	MaxFPSDrops    = 5
)

// Rule names, reported in Assessment.Failed for audit and alert templates.
const (
	RuleIPTrust     = "ip_trust"
	RuleDeviceTrust = "device_trust"
	RuleLoginHour   = "login_hour"
	RuleGeoMatch    = "geo_match"
	RuleTypingSpeed = "typing_speed"
	RuleCursor      = "cursor_activity"
	RuleTabSwitch   = "tab_switching"
	RuleFPS         = "rendering_stability"
)

// Assessment is the result of evaluating one context against a profile.
type Assessment struct {
	// Base is the profile's stored score at evaluation time, carried in
	// per the scoring contract. Absorb later resets the stored score to
	// Increments, so the base never compounds across sessions.
	Base int `json:"base"`
	// Increments is the number of rules that failed (0..8).
	Increments int `json:"increments"`
	// Score = Base + Increments. This is what decisions gate on.
	Score int `json:"score"`
	// Failed lists the names of failed rules in evaluation order.
	Failed []string `json:"failed,omitempty"`

	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// rule is a single independent heuristic. fails returning true adds +1.
// No rule suppresses or short-circuits another.
type rule struct {
	name  string
	fails func(c *Context, p *TrustProfile) bool
}

var rules = []rule{
	{RuleIPTrust, func(c *Context, p *TrustProfile) bool {
		return !p.HasIP(c.IP)
	}},
	{RuleDeviceTrust, func(c *Context, p *TrustProfile) bool {
		return !p.HasDevice(c.Device)
	}},
	{RuleLoginHour, func(c *Context, p *TrustProfile) bool {
		h := c.LoginTime.Local().Hour()
		return h < DayStartHour || h > DayEndHour
	}},
	{RuleGeoMatch, func(c *Context, p *TrustProfile) bool {
		return !p.MatchesLocation(c.Location)
	}},
	{RuleTypingSpeed, func(c *Context, p *TrustProfile) bool {
		return c.TypingSpeed == nil || *c.TypingSpeed < MinTypingIntervalMS
	}},
	{RuleCursor, func(c *Context, p *TrustProfile) bool {
		return len(c.CursorMovements) < MinCursorSamples
	}},
	{RuleTabSwitch, func(c *Context, p *TrustProfile) bool {
		return c.TabSwitches == nil || *c.TabSwitches > MaxTabSwitches
	}},
	{RuleFPS, func(c *Context, p *TrustProfile) bool {
		return c.ScreenFPSDrops == nil || *c.ScreenFPSDrops > MaxFPSDrops
	}},
}

// Evaluate scores a context against a trust profile. Pure and
// deterministic: no I/O, no clock reads beyond c.LoginTime, and malformed
// or missing signals contribute risk instead of failing. All rules are
// evaluated independently; the score is the stored base plus one point
// per failed rule.
func Evaluate(c *Context, p *TrustProfile) *Assessment {
	a := &Assessment{
		Base:        p.RiskScore,
		EvaluatedAt: c.LoginTime,
	}
	for _, r := range rules {
		if r.fails(c, p) {
			a.Increments++
			a.Failed = append(a.Failed, r.name)
		}
	}
	a.Score = a.Base + a.Increments
	return a
}

// Decide maps a login risk score to an outcome.
func Decide(score int) Decision {
	switch {
	case score >= BlockThreshold:
		return DecisionBlock
	case score >= StepUpThreshold:
		return DecisionStepUp
	default:
		return DecisionAllow
	}
}

// DecideTransfer maps a transaction risk score to an outcome. Medium risk
// only escalates to step-up above the amount floor; the block tier applies
// regardless of amount.
func DecideTransfer(score int, amount int64) Decision {
	switch {
	case score >= BlockThreshold:
		return DecisionBlock
	case score >= StepUpThreshold && amount > StepUpAmountFloor:
		return DecisionStepUp
	default:
		return DecisionAllow
	}
}
