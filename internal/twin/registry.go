package twin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/medtwin-core/internal/docstore"
	"github.com/nerrad567/medtwin-core/internal/infrastructure/metrics"
	"github.com/nerrad567/medtwin-core/internal/notify"
	"github.com/nerrad567/medtwin-core/internal/replica"
	"github.com/nerrad567/medtwin-core/internal/service"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Notifier delivers operator notifications on behalf of a twin, or of a
// replica that belongs to no twin.
type Notifier interface {
	NotifyTwin(ctx context.Context, twinID, msg string) (int, error)
	NotifyReplicaOwner(ctx context.Context, replicaID, msg string) (int, error)
}

type serviceSet map[service.Kind]service.Service

// Registry manages twins and caches their live service instances.
//
// The cache maps twin ID to the services built from the twin's stored
// service list. Entries are filled on first use and evicted by
// DeleteTwin. Replicas in no twin share one detached service set.
//
// All public methods are thread-safe.
type Registry struct {
	docs     docstore.Store
	replicas *replica.Store
	deps     service.Deps
	settings service.Settings
	notifier Notifier
	logger   Logger
	now      func() time.Time

	cacheMu  sync.RWMutex
	cache    map[string]serviceSet
	detached serviceSet

	// linkMu serialises membership changes so a pair is never inserted
	// into two twins by concurrent moves.
	linkMu sync.Mutex
}

// NewRegistry creates a Registry. deps.Replicas must be set.
func NewRegistry(docs docstore.Store, deps service.Deps, settings service.Settings) *Registry {
	r := &Registry{
		docs:     docs,
		replicas: deps.Replicas,
		deps:     deps,
		settings: settings,
		logger:   noopLogger{},
		now:      time.Now,
		cache:    make(map[string]serviceSet),
	}
	r.detached, _ = r.build(service.Catalog())
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetNotifier sets the notification sink used by runtimes.
func (r *Registry) SetNotifier(n Notifier) {
	r.notifier = n
}

// build instantiates kinds; failures are returned by kind name.
func (r *Registry) build(kinds []service.Kind) (serviceSet, map[string]string) {
	set := make(serviceSet, len(kinds))
	var failed map[string]string
	for _, kind := range kinds {
		svc, err := service.New(kind, r.deps, r.settings)
		if err != nil {
			if failed == nil {
				failed = make(map[string]string)
			}
			failed[string(kind)] = err.Error()
			r.logger.Warn("attaching service failed", "service", kind, "error", err)
			continue
		}
		set[kind] = svc
	}
	return set, failed
}

// servicesFor returns the cached services of t, building them on a miss.
func (r *Registry) servicesFor(t *Twin) serviceSet {
	r.cacheMu.RLock()
	set, ok := r.cache[t.ID]
	r.cacheMu.RUnlock()
	if ok {
		return set
	}

	kinds := make([]service.Kind, 0, len(t.Services))
	for _, name := range t.Services {
		kind := service.Kind(name)
		if !kind.Valid() {
			r.logger.Warn("unknown service on twin", "twin_id", t.ID, "service", name)
			continue
		}
		kinds = append(kinds, kind)
	}
	built, _ := r.build(kinds)

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if existing, ok := r.cache[t.ID]; ok {
		return existing
	}
	r.cache[t.ID] = built
	return built
}

func (r *Registry) evict(twinID string) {
	r.cacheMu.Lock()
	delete(r.cache, twinID)
	r.cacheMu.Unlock()
}

// CachedTwins returns the number of twins with live service instances.
func (r *Registry) CachedTwins() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// =============================================================================
// Twin CRUD
// =============================================================================

// CreateTwin creates a twin owned by ownerID and attaches every catalog
// service. Returns ErrNameConflict if the name is taken.
func (r *Registry) CreateTwin(ctx context.Context, ownerID, name, description string) (*CreateResult, error) {
	name, err := ValidateName(name)
	if err != nil {
		return nil, err
	}
	if err := validateDescription(description); err != nil {
		return nil, err
	}

	var existing []Twin
	filter := docstore.Filter{Eq: map[string]any{"name": name}}
	if err := r.docs.Query(ctx, Collection, filter, &existing); err != nil {
		return nil, fmt.Errorf("checking twin name: %w", err)
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w: %q", ErrNameConflict, name)
	}

	set, failed := r.build(service.Catalog())
	names := make([]string, 0, len(set))
	for _, kind := range service.Catalog() {
		if _, ok := set[kind]; ok {
			names = append(names, string(kind))
		}
	}

	now := r.now()
	t := &Twin{
		ID:                GenerateID(),
		Name:              name,
		Description:       description,
		OwnerUserID:       ownerID,
		ActiveOperatorIDs: []string{},
		Replicas:          []ReplicaLink{},
		Services:          names,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := r.docs.Save(ctx, Collection, t.ID, t); err != nil {
		if errors.Is(err, docstore.ErrConflict) {
			return nil, fmt.Errorf("%w: %q", ErrNameConflict, name)
		}
		return nil, fmt.Errorf("saving twin: %w", err)
	}

	r.cacheMu.Lock()
	r.cache[t.ID] = set
	r.cacheMu.Unlock()

	r.logger.Info("twin created", "twin_id", t.ID, "name", name, "owner", ownerID, "services", len(names))
	return &CreateResult{Twin: t, FailedServices: failed}, nil
}

// GetTwin returns a twin. Returns ErrTwinNotFound.
func (r *Registry) GetTwin(ctx context.Context, id string) (*Twin, error) {
	var t Twin
	if err := r.docs.Get(ctx, Collection, id, &t); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrTwinNotFound
		}
		return nil, fmt.Errorf("loading twin %s: %w", id, err)
	}
	return &t, nil
}

// Authorize returns the twin if userID owns it.
func (r *Registry) Authorize(ctx context.Context, twinID, userID string) (*Twin, error) {
	t, err := r.GetTwin(ctx, twinID)
	if err != nil {
		return nil, err
	}
	if t.OwnerUserID != userID {
		return nil, ErrUnauthorized
	}
	return t, nil
}

// ListTwins returns every twin ordered by ID.
func (r *Registry) ListTwins(ctx context.Context) ([]Twin, error) {
	var out []Twin
	if err := r.docs.Query(ctx, Collection, docstore.Filter{}, &out); err != nil {
		return nil, fmt.Errorf("listing twins: %w", err)
	}
	return out, nil
}

// ListTwinsForOwner returns the twins owned by a user ordered by ID.
func (r *Registry) ListTwinsForOwner(ctx context.Context, ownerID string) ([]Twin, error) {
	var out []Twin
	filter := docstore.Filter{Eq: map[string]any{"ownerUserId": ownerID}}
	if err := r.docs.Query(ctx, Collection, filter, &out); err != nil {
		return nil, fmt.Errorf("listing twins for owner: %w", err)
	}
	return out, nil
}

// DeleteTwin removes a twin and drops its cached services. Linked
// replicas are kept.
func (r *Registry) DeleteTwin(ctx context.Context, id string) error {
	if err := r.docs.Delete(ctx, Collection, id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrTwinNotFound
		}
		return fmt.Errorf("deleting twin %s: %w", id, err)
	}
	r.evict(id)
	r.logger.Info("twin deleted", "twin_id", id)
	return nil
}

func (r *Registry) touch(ctx context.Context, twinID string) error {
	err := r.docs.Update(ctx, Collection, twinID, map[string]any{"updatedAt": r.now()})
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrTwinNotFound
	}
	return err
}

// =============================================================================
// Membership
// =============================================================================

func linkMatch(replicaType, replicaID string) map[string]any {
	return map[string]any{"replicaType": replicaType, "replicaId": replicaID}
}

// LinkReplica adds a replica owned by the twin owner to the twin,
// moving it out of any other twin first. It returns the twin it was
// moved from, or "".
func (r *Registry) LinkReplica(ctx context.Context, twinID, replicaType, replicaID string) (string, error) {
	if replicaType != replica.Type {
		return "", fmt.Errorf("%w: unsupported type %q", ErrReplicaNotFound, replicaType)
	}
	t, err := r.GetTwin(ctx, twinID)
	if err != nil {
		return "", err
	}
	rep, err := r.replicas.Get(ctx, replicaID)
	if errors.Is(err, replica.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrReplicaNotFound, replicaID)
	}
	if err != nil {
		return "", err
	}
	if rep.OwnerUserID != t.OwnerUserID {
		return "", fmt.Errorf("%w: %s", ErrReplicaNotFound, replicaID)
	}

	r.linkMu.Lock()
	defer r.linkMu.Unlock()

	holders, err := r.FindTwinsContainingReplica(ctx, replicaType, replicaID)
	if err != nil {
		return "", err
	}

	var (
		movedFrom string
		lastSent  time.Time
	)
	for _, id := range holders {
		if id == twinID {
			continue
		}
		if _, err := r.docs.Pull(ctx, Collection, id, "replicas", linkMatch(replicaType, replicaID)); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return "", fmt.Errorf("removing %s from twin %s: %w", replicaID, id, err)
		}
		if m := r.cachedReminder(id); m != nil {
			if sent, ok := m.LastSent(replicaID); ok && sent.After(lastSent) {
				lastSent = sent
			}
		}
		r.forgetReplica(id, replicaID)
		if movedFrom == "" {
			movedFrom = id
		}
	}

	if !contains(holders, twinID) {
		link := ReplicaLink{
			ReplicaType: replicaType,
			ReplicaID:   replicaID,
			DisplayName: rep.Name,
			LinkedAt:    r.now(),
		}
		if err := r.docs.PushCapped(ctx, Collection, twinID, "replicas", link, 0); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return movedFrom, ErrTwinNotFound
			}
			return movedFrom, fmt.Errorf("linking %s to twin %s: %w", replicaID, twinID, err)
		}
	}
	if err := r.touch(ctx, twinID); err != nil {
		return movedFrom, err
	}
	// A move inside the firing window must not wake the dispenser twice.
	if !lastSent.IsZero() {
		if m, ok := r.servicesFor(t)[service.KindMedicationReminder].(*service.MedicationReminder); ok {
			m.Restore(replicaID, lastSent)
		}
	}

	r.logger.Info("replica linked", "twin_id", twinID, "replica_id", replicaID, "moved_from", movedFrom)
	return movedFrom, nil
}

// UnlinkReplica removes a replica from a twin. Returns ErrReplicaNotFound
// if it was not linked.
func (r *Registry) UnlinkReplica(ctx context.Context, twinID, replicaType, replicaID string) error {
	r.linkMu.Lock()
	defer r.linkMu.Unlock()

	removed, err := r.docs.Pull(ctx, Collection, twinID, "replicas", linkMatch(replicaType, replicaID))
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrTwinNotFound
	}
	if err != nil {
		return fmt.Errorf("unlinking %s from twin %s: %w", replicaID, twinID, err)
	}
	if !removed {
		return fmt.Errorf("%w: %s not linked to %s", ErrReplicaNotFound, replicaID, twinID)
	}
	r.forgetReplica(twinID, replicaID)
	if err := r.touch(ctx, twinID); err != nil {
		return err
	}
	r.logger.Info("replica unlinked", "twin_id", twinID, "replica_id", replicaID)
	return nil
}

// DeleteReplica unlinks a replica from every twin and deletes it.
func (r *Registry) DeleteReplica(ctx context.Context, replicaID string) error {
	r.linkMu.Lock()
	defer r.linkMu.Unlock()

	holders, err := r.FindTwinsContainingReplica(ctx, replica.Type, replicaID)
	if err != nil {
		return err
	}
	for _, id := range holders {
		if _, err := r.docs.Pull(ctx, Collection, id, "replicas", linkMatch(replica.Type, replicaID)); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("unlinking %s from twin %s: %w", replicaID, id, err)
		}
		r.forgetReplica(id, replicaID)
	}

	if err := r.replicas.Delete(ctx, replicaID); err != nil {
		if errors.Is(err, replica.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrReplicaNotFound, replicaID)
		}
		return err
	}
	r.logger.Info("replica deleted", "replica_id", replicaID, "unlinked_from", len(holders))
	return nil
}

// forgetReplica clears reminder state a twin's services hold for a replica.
func (r *Registry) forgetReplica(twinID, replicaID string) {
	if m := r.cachedReminder(twinID); m != nil {
		m.Reset(replicaID)
	}
}

// cachedReminder returns the twin's cached reminder service, if built.
func (r *Registry) cachedReminder(twinID string) *service.MedicationReminder {
	r.cacheMu.RLock()
	set := r.cache[twinID]
	r.cacheMu.RUnlock()
	m, _ := set[service.KindMedicationReminder].(*service.MedicationReminder)
	return m
}

// FindTwinsContainingReplica returns the IDs of every twin linking the
// pair, ascending.
func (r *Registry) FindTwinsContainingReplica(ctx context.Context, replicaType, replicaID string) ([]string, error) {
	var twins []Twin
	filter := docstore.Filter{ElemMatch: map[string]map[string]any{
		"replicas": linkMatch(replicaType, replicaID),
	}}
	if err := r.docs.Query(ctx, Collection, filter, &twins); err != nil {
		return nil, fmt.Errorf("finding twins for %s: %w", replicaID, err)
	}
	ids := make([]string, 0, len(twins))
	for _, t := range twins {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// ResolveTwinForReplica returns the twin linking the pair. When more
// than one twin matches, the lowest ID wins and a data-integrity alert
// is raised. Returns ErrTwinNotFound when no twin links it.
func (r *Registry) ResolveTwinForReplica(ctx context.Context, replicaType, replicaID string) (string, error) {
	ids, err := r.FindTwinsContainingReplica(ctx, replicaType, replicaID)
	if err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", ErrTwinNotFound
	case 1:
		return ids[0], nil
	default:
		metrics.IntegrityAlertsTotal.Inc()
		r.logger.Error("replica linked to more than one twin",
			"replica_type", replicaType, "replica_id", replicaID, "twins", ids, "chosen", ids[0])
		return ids[0], nil
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// =============================================================================
// Operators
// =============================================================================

// AddOperator marks an operator logged in to a twin. It reports whether
// the operator was newly added.
func (r *Registry) AddOperator(ctx context.Context, twinID, operatorID string) (bool, error) {
	added, err := r.docs.AddToSet(ctx, Collection, twinID, "activeOperatorIds", operatorID)
	if errors.Is(err, docstore.ErrNotFound) {
		return false, ErrTwinNotFound
	}
	if err != nil {
		return false, fmt.Errorf("adding operator to %s: %w", twinID, err)
	}
	r.logger.Info("operator logged in", "twin_id", twinID, "operator_id", operatorID, "added", added)
	return added, nil
}

// RemoveOperator logs an operator out of a twin. It reports whether the
// operator was present.
func (r *Registry) RemoveOperator(ctx context.Context, twinID, operatorID string) (bool, error) {
	removed, err := r.docs.Pull(ctx, Collection, twinID, "activeOperatorIds", operatorID)
	if errors.Is(err, docstore.ErrNotFound) {
		return false, ErrTwinNotFound
	}
	if err != nil {
		return false, fmt.Errorf("removing operator from %s: %w", twinID, err)
	}
	r.logger.Info("operator logged out", "twin_id", twinID, "operator_id", operatorID, "removed", removed)
	return removed, nil
}

// =============================================================================
// notify.Directory
// =============================================================================

var _ notify.Directory = (*Registry)(nil)

// TwinAudience implements notify.Directory.
func (r *Registry) TwinAudience(ctx context.Context, twinID string) (notify.Audience, error) {
	t, err := r.GetTwin(ctx, twinID)
	if err != nil {
		return notify.Audience{}, err
	}
	return notify.Audience{OwnerUserID: t.OwnerUserID, ActiveOperators: t.ActiveOperatorIDs}, nil
}

// OwnerAudience implements notify.Directory.
func (r *Registry) OwnerAudience(ctx context.Context, ownerUserID, excludeTwinID string) ([]string, error) {
	twins, err := r.ListTwinsForOwner(ctx, ownerUserID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, t := range twins {
		if t.ID == excludeTwinID {
			continue
		}
		for _, op := range t.ActiveOperatorIDs {
			seen[op] = struct{}{}
		}
	}
	ops := make([]string, 0, len(seen))
	for op := range seen {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops, nil
}

// ReplicaOwner implements notify.Directory.
func (r *Registry) ReplicaOwner(ctx context.Context, replicaID string) (string, error) {
	rep, err := r.replicas.Get(ctx, replicaID)
	if err != nil {
		return "", err
	}
	return rep.OwnerUserID, nil
}

// =============================================================================
// Runtimes
// =============================================================================

// Runtime returns the runtime of a twin.
func (r *Registry) Runtime(ctx context.Context, twinID string) (*Runtime, error) {
	t, err := r.GetTwin(ctx, twinID)
	if err != nil {
		return nil, err
	}
	return r.newRuntime(t, "", r.servicesFor(t)), nil
}

// DetachedRuntime returns a runtime for a replica that belongs to no
// twin. It notifies through the replica owner.
func (r *Registry) DetachedRuntime(ctx context.Context, replicaID string) (*Runtime, error) {
	exists, err := r.replicas.Exists(ctx, replicaID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrReplicaNotFound, replicaID)
	}
	return r.newRuntime(nil, replicaID, r.detached), nil
}

// RuntimeForReplica resolves the twin of a dispenser and returns its
// runtime, or the detached runtime when no twin links it.
func (r *Registry) RuntimeForReplica(ctx context.Context, replicaID string) (*Runtime, error) {
	twinID, err := r.ResolveTwinForReplica(ctx, replica.Type, replicaID)
	if errors.Is(err, ErrTwinNotFound) {
		return r.DetachedRuntime(ctx, replicaID)
	}
	if err != nil {
		return nil, err
	}
	rt, err := r.Runtime(ctx, twinID)
	if errors.Is(err, ErrTwinNotFound) {
		// Deleted between resolve and load.
		return r.DetachedRuntime(ctx, replicaID)
	}
	return rt, err
}

func (r *Registry) newRuntime(t *Twin, detachedID string, set serviceSet) *Runtime {
	return &Runtime{
		twin:       t,
		detachedID: detachedID,
		services:   set,
		replicas:   r.replicas,
		notifier:   r.notifier,
		logger:     r.logger,
	}
}
