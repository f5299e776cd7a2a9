package rolepolicy

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/oarkflow/rolepolicy/logger"
)

func TestFullAdminHoldsEveryCapability(t *testing.T) {
	r := NewResolver(nil, nil)
	p := NewPrincipal("a", "a@example.com")
	p.Role = Admin{Scope: FullScope{}}
	for _, c := range DefaultRegistry().Capabilities() {
		if !r.HasCapability(p, c.ID) {
			t.Fatalf("full admin denied %s", c.ID)
		}
	}
	if got := len(r.Visible(p)); got != len(DefaultRegistry().Capabilities()) {
		t.Fatalf("expected every entry visible, got %d", got)
	}
}

func TestLimitedAdminHoldsOnlyItsSet(t *testing.T) {
	r := NewResolver(nil, nil)
	scope, err := NewLimitedScope(NewCapabilitySet(CapReports, CapUsers))
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	p := NewPrincipal("a", "a@example.com")
	p.Role = Admin{Scope: scope}
	if !r.HasCapability(p, CapUsers) || !r.HasCapability(p, CapReports) {
		t.Fatalf("limited admin denied a granted capability")
	}
	if r.HasCapability(p, CapSettings) {
		t.Fatalf("limited admin allowed an ungranted capability")
	}
	visible := r.Visible(p)
	if len(visible) != 2 || visible[0].ID != CapUsers || visible[1].ID != CapReports {
		t.Fatalf("visible entries should follow menu order, got %+v", visible)
	}
}

func TestNonAdminsHoldNoCapabilities(t *testing.T) {
	r := NewResolver(nil, nil)
	mgr := NewPrincipal("m", "m@example.com")
	mgr.Role = OfficeManager{OfficeID: "off-1"}
	mkt := NewPrincipal("k", "k@example.com")
	mkt.Role = MarketingUser{}
	for _, p := range []*Principal{NewPrincipal("o", ""), hostIn("h", "", "lisbon", ""), mgr, mkt} {
		for _, c := range DefaultRegistry().Capabilities() {
			if r.HasCapability(p, c.ID) {
				t.Fatalf("%s principal allowed %s", p.PrimaryRole(), c.ID)
			}
		}
		if len(r.Visible(p)) != 0 {
			t.Fatalf("%s principal sees admin entries", p.PrimaryRole())
		}
	}
	if r.HasCapability(nil, CapUsers) {
		t.Fatalf("nil principal allowed")
	}
}

func TestUnknownCapabilityIsDeniedAndLogged(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewSLogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	r := NewResolver(nil, l)
	p := NewPrincipal("a", "a@example.com")
	p.Role = Admin{Scope: FullScope{}}
	if r.HasCapability(p, "laundry") {
		t.Fatalf("unregistered capability must be denied, even to full admins")
	}
	if !strings.Contains(buf.String(), "laundry") {
		t.Fatalf("expected debug entry for the unknown id, got %q", buf.String())
	}
}
