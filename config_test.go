package rolepolicy_test

import (
	"context"
	"strings"
	"testing"

	"github.com/oarkflow/rolepolicy"
)

const sampleConfig = `
version: 1
engine:
  permission_cache_ttl_ms: 500
  roster_retry_attempts: 7
commission:
  linked_office_rate: "0.05"
storage:
  driver: memory
offices:
  - id: off-1
    name: North Office
    city: lisbon
principals:
  - id: root
    email: root@example.com
    primary_role: admin
    admin_scope: full
  - id: support
    email: support@example.com
    primary_role: admin
    admin_scope: limited
    allowed_capabilities: [users, bookings]
  - id: h1
    email: h1@example.com
    primary_role: ordinary
    host_approved: true
    office_association_id: off-1
    city_assignment: lisbon
  - id: om
    email: om@example.com
    primary_role: office_manager
    office_association_id: off-1
bookings:
  - id: b1
    city: lisbon
    status: open
`

func TestLoadYAMLConfig(t *testing.T) {
	cfg, err := rolepolicy.NewConfigLoader().LoadYAML([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.PermissionCacheTTL != 500 || cfg.Engine.RosterRetryAttempts != 7 {
		t.Fatalf("unexpected engine config %+v", cfg.Engine)
	}
	if len(cfg.Principals) != 4 || len(cfg.Offices) != 1 || len(cfg.Bookings) != 1 {
		t.Fatalf("unexpected counts: %d principals, %d offices", len(cfg.Principals), len(cfg.Offices))
	}
	if err := cfg.Validate(nil); err != nil {
		t.Fatalf("validate: %v", err)
	}
	cp, err := cfg.Commission.Policy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if got := cp.RatesFor(rolepolicy.ActorOfficeLinkedHost).Office.String(); got != "0.05" {
		t.Fatalf("expected office rate override, got %s", got)
	}

	out, err := cfg.ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	back, err := rolepolicy.NewConfigLoader().LoadJSON(out)
	if err != nil || len(back.Principals) != 4 {
		t.Fatalf("json reload: %v", err)
	}
}

func TestValidateRejectsBrokenConfig(t *testing.T) {
	cases := map[string]string{
		"admin host": `
principals:
  - id: x
    primary_role: admin
    admin_scope: full
    host_approved: true
`,
		"unknown capability": `
principals:
  - id: x
    primary_role: admin
    admin_scope: limited
    allowed_capabilities: [laundry]
`,
		"undeclared office": `
principals:
  - id: x
    primary_role: office_manager
    office_association_id: off-9
`,
		"manager without email": `
offices:
  - id: o1
principals:
  - id: m1
    primary_role: office_manager
    office_association_id: o1
`,
		"linked host without email": `
offices:
  - id: o1
principals:
  - id: h1
    email: "  "
    primary_role: ordinary
    host_approved: true
    office_association_id: o1
    city_assignment: lisbon
`,
		"duplicate principal": `
principals:
  - id: x
  - id: x
`,
		"bad rate": `
commission:
  standard_rate: "2"
`,
	}
	for name, doc := range cases {
		cfg, err := rolepolicy.NewConfigLoader().LoadYAML([]byte(doc))
		if err != nil {
			t.Fatalf("%s: load: %v", name, err)
		}
		if err := cfg.Validate(nil); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestApplyEnvOverridesConfig(t *testing.T) {
	t.Setenv("ROLEPOLICY_PERMISSION_CACHE_TTL_MS", "-1")
	t.Setenv("ROLEPOLICY_STORAGE_DRIVER", "sqlite")
	t.Setenv("ROLEPOLICY_DB_DSN", "file:test.db")
	cfg, err := rolepolicy.NewConfigLoader().LoadYAML([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := rolepolicy.ApplyEnv(cfg); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Engine.PermissionCacheTTL != -1 || cfg.Storage.Driver != "sqlite" || cfg.Storage.DSN != "file:test.db" {
		t.Fatalf("env not applied: %+v %+v", cfg.Engine, cfg.Storage)
	}
	if cfg.Engine.RosterRetryAttempts != 7 {
		t.Fatalf("unset variables must keep loaded values, got %d", cfg.Engine.RosterRetryAttempts)
	}

	t.Setenv("ROLEPOLICY_ROSTER_RETRY_ATTEMPTS", "many")
	if err := rolepolicy.ApplyEnv(cfg); err == nil || !strings.Contains(err.Error(), "engine env") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestApplyConfigSeedsStores(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cfg, err := rolepolicy.NewConfigLoader().LoadYAML([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := h.svc.ApplyConfig(ctx, cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	o := h.office(t, "off-1")
	if o.HostCount != 2 || !o.HasMember("h1@example.com") || !o.HasMember("om@example.com") {
		t.Fatalf("roster should mirror seeded associations: %+v", o)
	}
	if ok, _ := h.svc.Authorize(ctx, "support", rolepolicy.CapBookings); !ok {
		t.Fatalf("seeded limited admin should hold bookings")
	}
	if ok, _ := h.svc.Authorize(ctx, "support", rolepolicy.CapSettings); ok {
		t.Fatalf("seeded limited admin should not hold settings")
	}
	ids, err := h.bookings.OpenBookingsInCity(ctx, "lisbon")
	if err != nil || len(ids) != 1 {
		t.Fatalf("bookings not seeded: %v %v", ids, err)
	}

	// applying again leaves existing records alone
	if _, err := h.svc.RevokeHost(ctx, req("h1")); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := h.svc.ApplyConfig(ctx, cfg); err != nil {
		t.Fatalf("reapply: %v", err)
	}
	p, _ := h.principals.GetPrincipal(ctx, "h1")
	if p.HostApproved() || h.office(t, "off-1").HostCount != 1 {
		t.Fatalf("reapply overwrote existing state")
	}
}

func TestApplyConfigRejectsRosterMemberWithoutEmail(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cfg := &rolepolicy.Config{
		Offices: []*rolepolicy.Office{{ID: "o1", City: "lisbon"}},
		Principals: []rolepolicy.PrincipalRecord{
			{ID: "m1", PrimaryRole: rolepolicy.RoleOfficeManager, OfficeAssociationID: "o1"},
		},
	}
	if err := h.svc.ApplyConfig(ctx, cfg); err == nil {
		t.Fatalf("expected manager without email to be rejected")
	}
	if _, err := h.principals.GetPrincipal(ctx, "m1"); !rolepolicy.IsNotFound(err) {
		t.Fatalf("rejected config must not seed principals: %v", err)
	}
	if _, err := h.offices.GetOffice(ctx, "o1"); !rolepolicy.IsNotFound(err) {
		t.Fatalf("rejected config must not seed offices: %v", err)
	}
}
