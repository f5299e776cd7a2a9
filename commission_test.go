package rolepolicy

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertAmounts(t *testing.T, r CommissionResult, host, platform, office, total string) {
	t.Helper()
	got := []string{r.HostReceives.StringFixed(2), r.PlatformFee.StringFixed(2), r.OfficeFee.StringFixed(2), r.PayerTotal.StringFixed(2)}
	want := []string{host, platform, office, total}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected host/platform/office/total %v, got %v", want, got)
		}
	}
}

func TestCommissionTable(t *testing.T) {
	cp := DefaultCommissionPolicy()
	cases := []struct {
		actor                         ActorClass
		host, platform, office, total string
		lines                         int
		firstLabel                    string
	}{
		{ActorFreelanceHost, "100.00", "35.00", "0.00", "135.00", 2, "Host receives"},
		{ActorOfficeLinkedHost, "100.00", "28.00", "7.00", "135.00", 3, "Host receives"},
		{ActorOfficeEntityListing, "100.00", "35.00", "0.00", "135.00", 2, "Office receives"},
		{ActorAdminListing, "100.00", "0.00", "0.00", "100.00", 2, "Platform listing"},
		{ActorUnclassified, "100.00", "35.00", "0.00", "135.00", 2, "Host receives"},
	}
	for _, c := range cases {
		r := cp.Compute(dec("100"), c.actor)
		assertAmounts(t, r, c.host, c.platform, c.office, c.total)
		if len(r.LineItems) != c.lines {
			t.Fatalf("%s: expected %d line items, got %+v", c.actor, c.lines, r.LineItems)
		}
		if r.LineItems[0].Label != c.firstLabel || r.LineItems[0].Kind != LinePayout {
			t.Fatalf("%s: unexpected first line %+v", c.actor, r.LineItems[0])
		}
		if r.LineItems[1].Label != "Platform fee" {
			t.Fatalf("%s: second line should be the platform fee, got %+v", c.actor, r.LineItems[1])
		}
	}
}

func TestCommissionNonPositiveBase(t *testing.T) {
	cp := DefaultCommissionPolicy()
	for _, base := range []string{"0", "-10", "0.004"} {
		r := cp.Compute(dec(base), ActorOfficeLinkedHost)
		assertAmounts(t, r, "0.00", "0.00", "0.00", "0.00")
		if r.LineItems == nil || len(r.LineItems) != 0 {
			t.Fatalf("base %s: expected empty non-nil line items, got %#v", base, r.LineItems)
		}
	}
}

func TestCommissionRoundingReconciles(t *testing.T) {
	cp := DefaultCommissionPolicy()
	r := cp.Compute(dec("33.333"), ActorOfficeLinkedHost)
	assertAmounts(t, r, "33.33", "9.33", "2.34", "45.00")

	r = cp.Compute(dec("33.333"), ActorFreelanceHost)
	assertAmounts(t, r, "33.33", "11.67", "0.00", "45.00")

	// exact halves round to even
	r = cp.Compute(dec("0.30"), ActorFreelanceHost)
	assertAmounts(t, r, "0.30", "0.10", "0.00", "0.40")

	for _, base := range []string{"0.01", "19.99", "1234.57", "99999.99"} {
		for _, actor := range []ActorClass{ActorFreelanceHost, ActorOfficeLinkedHost, ActorAdminListing} {
			r := cp.Compute(dec(base), actor)
			sum := r.HostReceives.Add(r.PlatformFee).Add(r.OfficeFee)
			if !sum.Equal(r.PayerTotal) {
				t.Fatalf("%s %s: parts %s do not add up to %s", base, actor, sum, r.PayerTotal)
			}
		}
	}
}

func TestCommissionConfigOverridesRates(t *testing.T) {
	cp, err := CommissionConfig{StandardRate: "0.30", LinkedPlatformRate: "0.20", LinkedOfficeRate: "0.10"}.Policy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	assertAmounts(t, cp.Compute(dec("100"), ActorFreelanceHost), "100.00", "30.00", "0.00", "130.00")
	assertAmounts(t, cp.Compute(dec("100"), ActorOfficeLinkedHost), "100.00", "20.00", "10.00", "130.00")

	if _, err := (CommissionConfig{StandardRate: "1.5"}).Policy(); err == nil {
		t.Fatalf("rates above 1 must be rejected")
	}
	if _, err := (CommissionConfig{LinkedOfficeRate: "abc"}).Policy(); err == nil {
		t.Fatalf("malformed rates must be rejected")
	}
}

func TestActorClassFor(t *testing.T) {
	admin := NewPrincipal("a", "")
	admin.Role = Admin{Scope: FullScope{}}
	mgr := NewPrincipal("m", "")
	mgr.Role = OfficeManager{OfficeID: "off-1", Host: &ManagedHost{City: "lisbon"}}
	cases := []struct {
		p    *Principal
		want ActorClass
	}{
		{admin, ActorAdminListing},
		{mgr, ActorOfficeEntityListing},
		{hostIn("h1", "", "lisbon", "off-1"), ActorOfficeLinkedHost},
		{hostIn("h2", "", "lisbon", ""), ActorFreelanceHost},
		{NewPrincipal("o", ""), ActorUnclassified},
		{nil, ActorUnclassified},
	}
	for _, c := range cases {
		if got := ActorClassFor(c.p); got != c.want {
			t.Fatalf("expected %q, got %q", c.want, got)
		}
	}
}
