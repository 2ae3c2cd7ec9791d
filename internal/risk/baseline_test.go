package risk

import (
	"testing"
	"time"
)

func TestAbsorbAddsUntrustedIPAndDevice(t *testing.T) {
	c := calmContext()
	c.IP = "198.51.100.9"
	c.Device = "Windows Edge"
	p := baseProfile()

	a := Evaluate(c, p)
	p.Absorb(c, a)

	if !p.HasIP("198.51.100.9") || !p.HasDevice("Windows Edge") {
		t.Fatal("absorb did not add new IP/device")
	}
	// Previously trusted entries survive.
	if !p.HasIP("203.0.113.7") || !p.HasDevice("MacOS Safari 17") {
		t.Fatal("absorb dropped existing trust entries")
	}
}

func TestAbsorbIsIdempotentOnSets(t *testing.T) {
	c := calmContext()
	p := baseProfile()
	a := Evaluate(c, p)

	p.Absorb(c, a)
	p.Absorb(c, a)

	if len(p.TrustedIPs) != 1 || len(p.TrustedDevices) != 1 || len(p.Locations) != 1 {
		t.Fatalf("sets grew on repeated absorb: ips=%d devices=%d locations=%d",
			len(p.TrustedIPs), len(p.TrustedDevices), len(p.Locations))
	}
}

func TestAbsorbLocationBoundingBox(t *testing.T) {
	p := baseProfile()
	c := calmContext()

	// Inside the 0.5 deg box: suppressed.
	c.Location = &Coordinates{Latitude: 12.97 + 0.3, Longitude: 77.59 - 0.3}
	p.Absorb(c, Evaluate(c, p))
	if len(p.Locations) != 1 {
		t.Fatalf("near-duplicate location appended, got %d entries", len(p.Locations))
	}

	// Outside the box: appended.
	c.Location = &Coordinates{Latitude: 12.97 + 0.6, Longitude: 77.59}
	p.Absorb(c, Evaluate(c, p))
	if len(p.Locations) != 2 {
		t.Fatalf("distant location not appended, got %d entries", len(p.Locations))
	}
}

func TestAbsorbTypingSpeedEMA(t *testing.T) {
	p := baseProfile()
	c := calmContext()

	// First sample seeds the baseline.
	c.TypingSpeed = f64(250)
	p.Absorb(c, Evaluate(c, p))
	if p.Behavioral.TypingSpeed == nil || *p.Behavioral.TypingSpeed != 250 {
		t.Fatalf("seed typing speed = %v, want 250", p.Behavioral.TypingSpeed)
	}

	// Second sample moves the baseline by alpha.
	c.TypingSpeed = f64(350)
	p.Absorb(c, Evaluate(c, p))
	want := 0.3*350 + 0.7*250
	if got := *p.Behavioral.TypingSpeed; got != want {
		t.Fatalf("EMA typing speed = %v, want %v", got, want)
	}

	// A missing sample leaves the baseline alone.
	c.TypingSpeed = nil
	p.Absorb(c, Evaluate(c, p))
	if got := *p.Behavioral.TypingSpeed; got != want {
		t.Fatalf("missing sample changed baseline to %v", got)
	}
}

func TestAbsorbStoresFreshScoreOnly(t *testing.T) {
	p := baseProfile()
	p.RiskScore = 4

	c := calmContext()
	c.IP = "198.51.100.9" // one fresh failure

	a := Evaluate(c, p)
	if a.Score != 5 {
		t.Fatalf("expected score 4+1=5, got %d", a.Score)
	}
	p.Absorb(c, a)
	if p.RiskScore != 1 {
		t.Fatalf("stored score = %d, want fresh count 1 (no ratcheting)", p.RiskScore)
	}
}

func TestAppendLog(t *testing.T) {
	p := baseProfile()
	c := calmContext()
	at := time.Date(2026, 3, 10, 14, 0, 1, 0, time.UTC)

	p.AppendLog(c, 2, "Bengaluru", at)
	if len(p.ContextLogs) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(p.ContextLogs))
	}
	entry := p.ContextLogs[0]
	if entry.IP != c.IP || entry.Device != c.Device || entry.RiskScore != 2 {
		t.Fatalf("log entry fields wrong: %+v", entry)
	}
	if entry.Location.LocationName != "Bengaluru" || entry.Location.Lat != 12.97 {
		t.Fatalf("log location wrong: %+v", entry.Location)
	}

	// Nil location still logs the resolved name.
	c.Location = nil
	p.AppendLog(c, 3, "Unknown", at)
	if p.ContextLogs[1].Location.LocationName != "Unknown" {
		t.Fatalf("nil-location log entry wrong: %+v", p.ContextLogs[1])
	}
}

func TestSeed(t *testing.T) {
	c := calmContext()
	p := Seed(c, "Bengaluru", time.Now())

	if !p.HasIP(c.IP) || !p.HasDevice(c.Device) {
		t.Fatal("seed did not trust signup IP/device")
	}
	if len(p.Locations) != 1 || len(p.ContextLogs) != 1 {
		t.Fatalf("seed locations=%d logs=%d, want 1/1", len(p.Locations), len(p.ContextLogs))
	}
	if p.ContextLogs[0].RiskScore != 0 || p.RiskScore != 0 {
		t.Fatal("seeded profile should start at risk 0")
	}
	if p.Behavioral.TypingSpeed == nil || *p.Behavioral.TypingSpeed != 250 {
		t.Fatalf("seed typing baseline = %v, want 250", p.Behavioral.TypingSpeed)
	}
}
