// services/access_service.go
package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"jtrace-service/fault"
	"jtrace-service/grants"
	"jtrace-service/ledger"
	"jtrace-service/models"
	"jtrace-service/utils"

	"go.uber.org/zap"
)

// AccessLedger is the ledger side of the access grant registry.
type AccessLedger interface {
	GrantAccess(ctx context.Context, owner, delegate string) (string, error)
	RevokeAccess(ctx context.Context, owner, delegate string) (string, error)
	AccessGranted(ctx context.Context, owner, delegate string) (bool, error)
}

type AccessOptions struct {
	// ReadTimeout bounds each delegate's read during reconciliation,
	// retries included.
	ReadTimeout  time.Duration
	ReadAttempts int
	RetryBackoff time.Duration
	// MaxConcurrentReads caps in-flight reads per owner. A read's deadline
	// starts when a worker picks it up, not when the pass starts.
	MaxConcurrentReads int
	// OwnerWorkers caps how many owners ReconcileOwners processes at once.
	OwnerWorkers int
}

// AccessChange is the outcome of a confirmed grant or revoke.
type AccessChange struct {
	Owner string       `json:"owner"`
	Grant models.Grant `json:"grant"`
	TxRef string       `json:"tx_ref"`
}

// ownerSession holds one owner's cached grants. op serialises cache
// mutations (a reconcile pass, applying a confirmed change) for the owner and
// is never held across a ledger confirmation wait. mu guards entries so
// readers only ever see a fully merged state.
type ownerSession struct {
	op sync.Mutex

	mu      sync.RWMutex
	loaded  bool
	entries map[string]models.Grant
}

type AccessService struct {
	ledger AccessLedger
	store  grants.Store
	audit  *grants.AuditStream
	opts   AccessOptions
	now    func() time.Time
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*ownerSession
}

func NewAccessService(ledger AccessLedger, store grants.Store, audit *grants.AuditStream, opts AccessOptions, logger *zap.Logger) *AccessService {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	if opts.ReadAttempts <= 0 {
		opts.ReadAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}
	if opts.MaxConcurrentReads <= 0 {
		opts.MaxConcurrentReads = 8
	}
	if opts.OwnerWorkers <= 0 {
		opts.OwnerWorkers = 4
	}
	return &AccessService{
		ledger:   ledger,
		store:    store,
		audit:    audit,
		opts:     opts,
		now:      time.Now,
		logger:   logger.Named("access"),
		sessions: map[string]*ownerSession{},
	}
}

// Grant submits a grant for (owner, delegate) and caches it once the ledger
// confirms. A failed submission leaves the cache untouched.
func (s *AccessService) Grant(ctx context.Context, owner, delegate string) (*AccessChange, error) {
	return s.change(ctx, owner, delegate, true)
}

// Revoke is the inverse of Grant. The entry stays cached as revoked.
func (s *AccessService) Revoke(ctx context.Context, owner, delegate string) (*AccessChange, error) {
	return s.change(ctx, owner, delegate, false)
}

func (s *AccessService) change(ctx context.Context, owner, delegate string, grant bool) (*AccessChange, error) {
	o, err := normalize("owner", owner)
	if err != nil {
		return nil, err
	}
	d, err := normalize("delegate", delegate)
	if err != nil {
		return nil, err
	}

	sess := s.session(o)
	if err := s.ensureLoaded(ctx, o, sess); err != nil {
		return nil, err
	}

	submit, state, event := s.ledger.GrantAccess, models.GrantStateGranted, grants.EventGranted
	if !grant {
		submit, state, event = s.ledger.RevokeAccess, models.GrantStateRevoked, grants.EventRevoked
	}

	txRef, err := submit(ctx, o, d)
	if err != nil {
		s.logger.Warn("access change not confirmed",
			zap.String("owner", o),
			zap.String("delegate", d),
			zap.Bool("grant", grant),
			zap.String("tx_ref", txRef),
			zap.Error(err),
		)
		return nil, err
	}

	sess.op.Lock()
	defer sess.op.Unlock()

	entry := models.Grant{Delegate: d, Granted: grant, State: state, CheckedAt: s.now().UTC()}
	sess.mu.Lock()
	sess.entries[d] = entry
	snapshot := snapshotLocked(sess)
	sess.mu.Unlock()

	s.persist(ctx, o, snapshot)
	s.audit.Publish(ctx, grants.Event{Type: event, Owner: o, Delegate: d, TxRef: txRef, At: entry.CheckedAt})

	s.logger.Info("access changed",
		zap.String("owner", o),
		zap.String("delegate", d),
		zap.String("state", string(state)),
		zap.String("tx_ref", txRef),
	)
	return &AccessChange{Owner: o, Grant: entry, TxRef: txRef}, nil
}

type readResult struct {
	delegate string
	granted  bool
	err      error
}

// Reconcile reads the ledger flag for every delegate cached for owner plus
// the requested ones, merges the results into the cache and returns
// delegate -> granted. Each read has its own deadline; a read that fails or
// times out reports false for this pass and leaves the entry unknown. A read
// refused by the local throttle was never made: the cached entry is kept and
// reported as is.
func (s *AccessService) Reconcile(ctx context.Context, owner string, delegates []string) (map[string]bool, error) {
	o, err := normalize("owner", owner)
	if err != nil {
		return nil, err
	}
	requested := make([]string, 0, len(delegates))
	for _, raw := range delegates {
		d, err := normalize("delegate", raw)
		if err != nil {
			return nil, err
		}
		requested = append(requested, d)
	}

	sess := s.session(o)
	sess.op.Lock()
	defer sess.op.Unlock()
	return s.reconcileLocked(ctx, o, sess, requested)
}

func (s *AccessService) reconcileLocked(ctx context.Context, o string, sess *ownerSession, requested []string) (map[string]bool, error) {
	if err := s.ensureLoaded(ctx, o, sess); err != nil {
		return nil, err
	}

	sess.mu.RLock()
	tracked := make(map[string]struct{}, len(sess.entries)+len(requested))
	for d := range sess.entries {
		tracked[d] = struct{}{}
	}
	sess.mu.RUnlock()
	for _, d := range requested {
		tracked[d] = struct{}{}
	}

	jobs := make(chan string, len(tracked))
	for d := range tracked {
		jobs <- d
	}
	close(jobs)

	workers := s.opts.MaxConcurrentReads
	if workers > len(tracked) {
		workers = len(tracked)
	}
	results := make(chan readResult, len(tracked))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				readCtx, cancel := context.WithTimeout(ctx, s.opts.ReadTimeout)
				granted, err := s.readGranted(readCtx, o, d)
				cancel()
				results <- readResult{delegate: d, granted: granted, err: err}
			}
		}()
	}
	wg.Wait()
	close(results)

	checkedAt := s.now().UTC()
	out := make(map[string]bool, len(tracked))
	failed, throttled := 0, 0

	sess.mu.Lock()
	for r := range results {
		entry := models.Grant{Delegate: r.delegate, CheckedAt: checkedAt}
		switch {
		case errors.Is(r.err, ledger.ErrThrottled):
			throttled++
			if prev, ok := sess.entries[r.delegate]; ok {
				out[r.delegate] = prev.Granted
				continue
			}
			entry.State = models.GrantStateUnknown
		case r.err != nil:
			failed++
			entry.State = models.GrantStateUnknown
			s.logger.Warn("access read failed, reporting not granted",
				zap.String("owner", o),
				zap.String("delegate", r.delegate),
				zap.Error(r.err),
			)
		case r.granted:
			entry.Granted, entry.State = true, models.GrantStateGranted
		default:
			entry.State = models.GrantStateRevoked
		}
		sess.entries[r.delegate] = entry
		out[r.delegate] = entry.Granted
	}
	snapshot := snapshotLocked(sess)
	sess.mu.Unlock()

	s.persist(ctx, o, snapshot)
	s.logger.Info("access reconciled",
		zap.String("owner", o),
		zap.Int("delegates", len(out)),
		zap.Int("failed_reads", failed),
		zap.Int("throttled_reads", throttled),
	)
	return out, nil
}

// ReconcileOwners reconciles every owner with persisted grants, several
// owners at a time, and returns how many owners were processed. An owner
// whose session is already reconciling is skipped for this pass. One owner's
// failure does not stop the rest.
func (s *AccessService) ReconcileOwners(ctx context.Context) (int, error) {
	owners, err := s.store.Owners(ctx)
	if err != nil {
		return 0, fault.StoreError(err, "failed to list grant owners")
	}

	var (
		mu   sync.Mutex
		errs []error
		done int
		wg   sync.WaitGroup
	)
	sem := make(chan struct{}, s.opts.OwnerWorkers)
	for _, o := range owners {
		if ctx.Err() != nil {
			mu.Lock()
			errs = append(errs, ctx.Err())
			mu.Unlock()
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(o string) {
			defer func() { <-sem; wg.Done() }()

			sess := s.session(o)
			if !sess.op.TryLock() {
				s.logger.Debug("owner busy, skipped this pass", zap.String("owner", o))
				return
			}
			_, err := s.reconcileLocked(ctx, o, sess, nil)
			sess.op.Unlock()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("owner reconcile failed", zap.String("owner", o), zap.Error(err))
				errs = append(errs, err)
				return
			}
			done++
		}(o)
	}
	wg.Wait()
	return done, errors.Join(errs...)
}

// List returns the owner's cached entries sorted by delegate.
func (s *AccessService) List(ctx context.Context, owner string) ([]models.Grant, error) {
	o, err := normalize("owner", owner)
	if err != nil {
		return nil, err
	}
	sess := s.session(o)
	if err := s.ensureLoaded(ctx, o, sess); err != nil {
		return nil, err
	}
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return snapshotLocked(sess), nil
}

func (s *AccessService) readGranted(ctx context.Context, owner, delegate string) (bool, error) {
	backoff := s.opts.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= s.opts.ReadAttempts; attempt++ {
		granted, err := s.ledger.AccessGranted(ctx, owner, delegate)
		if err == nil {
			return granted, nil
		}
		lastErr = err
		if attempt == s.opts.ReadAttempts || errors.Is(err, ledger.ErrThrottled) {
			break
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
		backoff *= 2
	}
	return false, lastErr
}

func (s *AccessService) session(owner string) *ownerSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[owner]
	if !ok {
		sess = &ownerSession{entries: map[string]models.Grant{}}
		s.sessions[owner] = sess
	}
	return sess
}

func (s *AccessService) ensureLoaded(ctx context.Context, owner string, sess *ownerSession) error {
	sess.mu.RLock()
	loaded := sess.loaded
	sess.mu.RUnlock()
	if loaded {
		return nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.loaded {
		return nil
	}
	entries, err := s.store.Load(ctx, owner)
	if err != nil {
		return fault.StoreError(err, "failed to load grants for %s", owner)
	}
	for _, e := range entries {
		sess.entries[e.Delegate] = e
	}
	sess.loaded = true
	return nil
}

// persist writes a snapshot. The ledger already holds the truth, so a failed
// write is logged and repaired by the next reconcile of this owner.
func (s *AccessService) persist(ctx context.Context, owner string, snapshot []models.Grant) {
	if err := s.store.Save(ctx, owner, snapshot); err != nil {
		s.logger.Error("grant cache not persisted", zap.String("owner", owner), zap.Error(err))
	}
}

func snapshotLocked(sess *ownerSession) []models.Grant {
	out := make([]models.Grant, 0, len(sess.entries))
	for _, e := range sess.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Delegate < out[j].Delegate })
	return out
}

func normalize(field, raw string) (string, error) {
	addr, ok := utils.NormalizeAddress(raw)
	if !ok {
		if addr == "" {
			return "", fault.ValidationError("%s is required", field)
		}
		return "", fault.ValidationError("%s %q is not a valid wallet address", field, raw)
	}
	return addr, nil
}
