package rolepolicy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"github.com/oarkflow/rolepolicy/logger"
	"github.com/shopspring/decimal"
)

// Request identifies who is changing whom. OperationKey, when set, makes a
// retried request return the first result instead of applying again.
type Request struct {
	ActorID      string
	PrincipalID  string
	OperationKey string
}

// Service loads state, runs an Engine operation and applies the resulting
// transition: principal write, roster updates, cache invalidation, audit and
// notification fan-out, in that order.
type Service struct {
	engine     *Engine
	resolver   *Resolver
	commission *CommissionPolicy
	principals PrincipalStore
	offices    OfficeStore
	audit      AuditSink
	notifier   Notifier
	bookings   BookingDirectory
	dispatcher *Dispatcher
	cfg        EngineConfig
	cache      *ristretto.Cache
	logger     logger.Logger

	// gens counts invalidations per principal id.
	genMu sync.Mutex
	gens  map[string]uint64

	traceIDFunc logger.TraceIDFunc
}

type Option func(*Service) error

func WithEngine(e *Engine) Option {
	return func(s *Service) error {
		if e == nil {
			return fmt.Errorf("engine is nil")
		}
		s.engine = e
		return nil
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) error {
		s.notifier = n
		return nil
	}
}

func WithBookingDirectory(b BookingDirectory) Option {
	return func(s *Service) error {
		s.bookings = b
		return nil
	}
}

func WithCommissionPolicy(cp *CommissionPolicy) Option {
	return func(s *Service) error {
		if cp != nil {
			s.commission = cp
		}
		return nil
	}
}

// WithEngineConfig tunes caching, retries and fan-out. Zero fields keep defaults.
func WithEngineConfig(c EngineConfig) Option {
	return func(s *Service) error {
		s.cfg = c.withDefaults()
		return nil
	}
}

func NewService(principals PrincipalStore, offices OfficeStore, audit AuditSink, opts ...Option) (*Service, error) {
	if principals == nil || offices == nil || audit == nil {
		return nil, fmt.Errorf("principal, office and audit stores are required")
	}
	s := &Service{
		principals:  principals,
		offices:     offices,
		audit:       audit,
		commission:  DefaultCommissionPolicy(),
		cfg:         DefaultEngineConfig(),
		logger:      logger.NewPhusluLogger("rolepolicy"),
		traceIDFunc: uuid.NewString,
		gens:        make(map[string]uint64),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.engine == nil {
		s.engine = NewEngine()
	}
	s.resolver = NewResolver(s.engine.Registry(), s.logger)
	s.dispatcher = NewDispatcher(s.notifier, s.bookings, s.cfg.NotifyWorkers, s.logger)
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: s.cfg.RistrettoNumCounter,
		MaxCost:     s.cfg.RistrettoMaxCost,
		BufferItems: s.cfg.RistrettoBuffer,
		// entries are counted, not sized
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create principal cache: %w", err)
	}
	s.cache = cache
	return s, nil
}

// Close drains pending notification fan-outs and releases the cache.
func (s *Service) Close() {
	s.dispatcher.Wait()
	s.cache.Close()
}

// WaitNotifications blocks until in-flight fan-outs finish.
func (s *Service) WaitNotifications() { s.dispatcher.Wait() }

func (s *Service) Engine() *Engine     { return s.engine }
func (s *Service) Resolver() *Resolver { return s.resolver }

func (s *Service) GrantFullAdmin(ctx context.Context, req Request) (*Principal, error) {
	return s.run(ctx, req, OpGrantFullAdmin, "", func(p *Principal) (*Transition, error) {
		return s.engine.GrantFullAdmin(req.ActorID, p)
	})
}

// GrantLimitedAdmin parses caps against the registry before touching any store.
func (s *Service) GrantLimitedAdmin(ctx context.Context, req Request, caps []string) (*Principal, error) {
	set, err := s.engine.Registry().Parse(OpGrantLimitedAdmin, caps)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, req, OpGrantLimitedAdmin, "", func(p *Principal) (*Transition, error) {
		return s.engine.GrantLimitedAdmin(req.ActorID, p, set)
	})
}

func (s *Service) RevokeAdmin(ctx context.Context, req Request) (*Principal, error) {
	return s.run(ctx, req, OpRevokeAdmin, "", func(p *Principal) (*Transition, error) {
		return s.engine.RevokeAdmin(req.ActorID, p)
	})
}

// ApproveHost approves the principal as a host in city. officeID may be empty.
func (s *Service) ApproveHost(ctx context.Context, req Request, city, officeID string) (*Principal, error) {
	officeID = strings.TrimSpace(officeID)
	return s.run(ctx, req, OpApproveHost, officeID, func(p *Principal) (*Transition, error) {
		return s.engine.ApproveHost(req.ActorID, p, city, officeID)
	})
}

func (s *Service) RevokeHost(ctx context.Context, req Request) (*Principal, error) {
	return s.run(ctx, req, OpRevokeHost, "", func(p *Principal) (*Transition, error) {
		return s.engine.RevokeHost(req.ActorID, p)
	})
}

func (s *Service) GrantOfficeManager(ctx context.Context, req Request, officeID string) (*Principal, error) {
	officeID = strings.TrimSpace(officeID)
	if officeID == "" {
		return nil, &ValidationError{Op: OpGrantOfficeManager, Field: "office_id", Reason: "office id is required"}
	}
	return s.run(ctx, req, OpGrantOfficeManager, officeID, func(p *Principal) (*Transition, error) {
		return s.engine.GrantOfficeManager(req.ActorID, p, officeID)
	})
}

func (s *Service) RevokeOfficeManager(ctx context.Context, req Request) (*Principal, error) {
	return s.run(ctx, req, OpRevokeOfficeManager, "", func(p *Principal) (*Transition, error) {
		return s.engine.RevokeOfficeManager(req.ActorID, p)
	})
}

func (s *Service) GrantMarketingRole(ctx context.Context, req Request) (*Principal, error) {
	return s.run(ctx, req, OpGrantMarketingRole, "", func(p *Principal) (*Transition, error) {
		return s.engine.GrantMarketingRole(req.ActorID, p)
	})
}

func (s *Service) RevokeMarketingRole(ctx context.Context, req Request) (*Principal, error) {
	return s.run(ctx, req, OpRevokeMarketingRole, "", func(p *Principal) (*Transition, error) {
		return s.engine.RevokeMarketingRole(req.ActorID, p)
	})
}

// Authorize reports whether the principal may use capability id. A denial is
// (false, nil); only a failed lookup is an error.
func (s *Service) Authorize(ctx context.Context, principalID string, id CapabilityID) (bool, error) {
	p, err := s.lookup(ctx, principalID)
	if err != nil {
		return false, err
	}
	if err := s.engine.Registry().CheckPrincipal(p); err != nil {
		s.logger.Error("principal references unknown capabilities", "principal", principalID, "error", err)
	}
	return s.resolver.HasCapability(p, id), nil
}

// VisibleCapabilities lists the registry entries the principal may open.
func (s *Service) VisibleCapabilities(ctx context.Context, principalID string) ([]Capability, error) {
	p, err := s.lookup(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return s.resolver.Visible(p), nil
}

// CheckIntegrity surfaces stored data problems for one principal.
func (s *Service) CheckIntegrity(ctx context.Context, principalID string) error {
	p, err := s.principals.GetPrincipal(ctx, principalID)
	if err != nil {
		return err
	}
	return s.engine.Registry().CheckPrincipal(p)
}

// Commission prices a listing created by principalID.
func (s *Service) Commission(ctx context.Context, principalID string, basePrice decimal.Decimal) (CommissionResult, ActorClass, error) {
	p, err := s.principals.GetPrincipal(ctx, principalID)
	if err != nil {
		return CommissionResult{}, ActorUnclassified, err
	}
	class := ActorClassFor(p)
	return s.commission.Compute(basePrice, class), class, nil
}

// ListAudit reads back audit records when the sink supports it.
func (s *Service) ListAudit(ctx context.Context, filter AuditFilter) ([]*AuditRecord, error) {
	r, ok := s.audit.(AuditReader)
	if !ok {
		return nil, fmt.Errorf("audit sink is write-only")
	}
	return r.ListAudit(ctx, filter)
}

func (s *Service) run(ctx context.Context, req Request, op Operation, officeID string, fn func(*Principal) (*Transition, error)) (*Principal, error) {
	if p, ok, err := s.replay(req, op); err != nil {
		return nil, err
	} else if ok {
		s.logger.Debug("operation key replayed", "op", string(op), "operation_key", req.OperationKey)
		return p, nil
	}
	traceID := s.traceID()
	p, err := s.principals.GetPrincipal(ctx, req.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if officeID != "" {
		if _, err := s.offices.GetOffice(ctx, officeID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	t, err := fn(p)
	if err != nil {
		s.logger.Debug("transition rejected", "op", string(op), "actor", req.ActorID, "principal", req.PrincipalID, "trace_id", traceID, "error", err)
		return nil, err
	}
	if err := s.apply(ctx, req, traceID, t); err != nil {
		return nil, err
	}
	s.remember(req, op, t.After)
	return t.After.Clone(), nil
}

func (s *Service) apply(ctx context.Context, req Request, traceID string, t *Transition) error {
	if !t.Changed {
		s.logger.Debug("transition is a no-op", "op", string(t.Op), "principal", t.After.ID, "trace_id", traceID)
		return nil
	}
	if err := s.principals.PutPrincipal(ctx, t.After, t.Before.Version); err != nil {
		return fmt.Errorf("%s: write principal %s: %w", t.Op, t.After.ID, err)
	}
	applied := make([]RosterChange, 0, len(t.Roster))
	for _, ch := range t.Roster {
		if err := s.applyRoster(ctx, ch); err != nil {
			s.compensate(ctx, t, applied, traceID)
			return fmt.Errorf("%s: roster %s %s: %w", t.Op, ch.Op, ch.OfficeID, err)
		}
		applied = append(applied, ch)
	}
	s.invalidate(t.After.ID)
	s.recordAudit(ctx, req, traceID, t)
	s.dispatcher.Dispatch(ctx, t.Notices)
	s.logger.Info("role transition applied",
		"op", string(t.Op),
		"actor", t.ActorID,
		"principal", t.After.ID,
		"role", string(t.After.PrimaryRole()),
		"host", string(t.After.HostClassification()),
		"version", t.After.Version,
		"trace_id", traceID,
	)
	return nil
}

// applyRoster retries conflicting roster writes. Add and remove are
// idempotent, so retrying converges.
func (s *Service) applyRoster(ctx context.Context, ch RosterChange) error {
	var err error
	for attempt := 1; attempt <= s.cfg.RosterRetryAttempts; attempt++ {
		if _, err = s.offices.ApplyRoster(ctx, ch); err == nil {
			return nil
		}
		if !IsConflict(err) {
			return err
		}
		s.logger.Debug("roster update conflict", "office", ch.OfficeID, "attempt", attempt)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

// compensate undoes roster changes already applied and restores the principal.
func (s *Service) compensate(ctx context.Context, t *Transition, applied []RosterChange, traceID string) {
	for i := len(applied) - 1; i >= 0; i-- {
		if err := s.applyRoster(ctx, applied[i].Inverse()); err != nil {
			s.logger.Error("roster compensation failed", "office", applied[i].OfficeID, "principal", t.After.ID, "trace_id", traceID, "error", err)
		}
	}
	restored := t.Before.Clone()
	if err := s.principals.PutPrincipal(ctx, restored, t.After.Version); err != nil {
		s.logger.Error("principal compensation failed", "principal", t.After.ID, "trace_id", traceID, "error", err)
	}
	s.invalidate(t.After.ID)
}

func (s *Service) recordAudit(ctx context.Context, req Request, traceID string, t *Transition) {
	if t.Audit == nil {
		return
	}
	rec := *t.Audit
	rec.Details = make(map[string]any, len(t.Audit.Details)+2)
	for k, v := range t.Audit.Details {
		rec.Details[k] = v
	}
	rec.Details["trace_id"] = traceID
	if req.OperationKey != "" {
		rec.Details["operation_key"] = req.OperationKey
	}
	if err := s.audit.Append(ctx, &rec); err != nil {
		s.logger.Error("audit append failed", "op", string(t.Op), "principal", t.After.ID, "trace_id", traceID, "error", err)
	}
}

func (s *Service) traceID() string {
	if s.traceIDFunc == nil {
		return ""
	}
	return s.traceIDFunc()
}

func principalKey(id string) string { return "principal:" + id }
func operationKey(k string) string  { return "op:" + k }

// lookup serves authorization reads from the snapshot cache. A snapshot is
// only cached if no invalidation for the id ran while it was being read.
func (s *Service) lookup(ctx context.Context, id string) (*Principal, error) {
	ttl := time.Duration(s.cfg.PermissionCacheTTL) * time.Millisecond
	if ttl <= 0 {
		return s.principals.GetPrincipal(ctx, id)
	}
	if v, ok := s.cache.Get(principalKey(id)); ok {
		if p, ok := v.(*Principal); ok {
			return p.Clone(), nil
		}
	}
	s.genMu.Lock()
	gen := s.gens[id]
	s.genMu.Unlock()

	p, err := s.principals.GetPrincipal(ctx, id)
	if err != nil {
		return nil, err
	}

	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.gens[id] == gen {
		s.cache.SetWithTTL(principalKey(id), p.Clone(), 1, ttl)
		s.cache.Wait()
	}
	return p, nil
}

func (s *Service) invalidate(id string) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.gens[id]++
	s.cache.Del(principalKey(id))
}

// operationResult is what an operation key remembers.
type operationResult struct {
	op          Operation
	principalID string
	principal   *Principal
}

func (s *Service) replay(req Request, op Operation) (*Principal, bool, error) {
	if req.OperationKey == "" {
		return nil, false, nil
	}
	v, ok := s.cache.Get(operationKey(req.OperationKey))
	if !ok {
		return nil, false, nil
	}
	res, ok := v.(*operationResult)
	if !ok {
		return nil, false, nil
	}
	if res.op != op || res.principalID != req.PrincipalID {
		return nil, false, &ValidationError{
			Op:     op,
			Field:  "operation_key",
			Reason: fmt.Sprintf("key %q already used for %s on principal %s", req.OperationKey, res.op, res.principalID),
		}
	}
	return res.principal.Clone(), true, nil
}

func (s *Service) remember(req Request, op Operation, p *Principal) {
	if req.OperationKey == "" {
		return
	}
	res := &operationResult{op: op, principalID: req.PrincipalID, principal: p.Clone()}
	s.cache.SetWithTTL(operationKey(req.OperationKey), res, 1, time.Duration(s.cfg.OperationKeyTTL)*time.Millisecond)
	s.cache.Wait()
}
