// Package manager wires the artifact store, reservation tracker, migrator,
// and lifecycle validator into one explicit context object. One Manager is
// constructed per process and passed to every caller; all shared state
// lives in its private fields behind a single lock. Running two instances
// against the same ledger account is not supported: reservations are not
// coordinated across processes.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"custodian/internal/artifact"
	"custodian/internal/chain"
	"custodian/internal/chain/retry"
	"custodian/internal/lifecycle"
	"custodian/internal/metrics"
	"custodian/internal/migration"
	"custodian/internal/models"
	"custodian/internal/reservation"
	"custodian/internal/storage"
)

// ErrAlreadyCompiled refuses a compile that would overwrite an existing
// artifact without the force flag.
var ErrAlreadyCompiled = errors.New("artifact already compiled, pass force to recompile")

// ProtocolContractName is the reserved name of the protocol contract unit.
const ProtocolContractName = "protocol"

// fundingMargin is added on top of the reference script deposit when
// selecting a funding input, leaving room for fees.
const fundingMargin uint64 = 5_000_000

// Options configures a Manager. Query is required; Compiler and Assembler
// may be nil for deployments that only reconcile (the maintenance daemon).
type Options struct {
	Network             string
	FundingAddress      string
	ContractSourceDir   string
	MinCompilationInput uint64

	Backend   storage.Backend
	Query     chain.Query
	Compiler  chain.Compiler
	Assembler chain.Assembler

	// QueryRetry wraps chain reads during reconcile. Defaults to no retry.
	QueryRetry retry.Strategy
}

// Manager owns the persisted artifact and reservation state and exposes
// every lifecycle operation of this core.
type Manager struct {
	mu          sync.Mutex
	reconcileMu sync.Mutex

	opts     Options
	state    *storage.State
	backend  storage.Backend
	store    *artifact.Store
	tracker  *reservation.Tracker
	migrator *migration.Migrator
	retry    retry.Strategy
}

// New loads persisted state through the backend and constructs the manager.
func New(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Backend == nil {
		return nil, errors.New("manager requires a storage backend")
	}
	if opts.Query == nil {
		return nil, errors.New("manager requires a chain query")
	}
	if opts.MinCompilationInput == 0 {
		opts.MinCompilationInput = 5_000_000
	}

	state, err := opts.Backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted state: %w", err)
	}

	m := &Manager{
		opts:    opts,
		state:   state,
		backend: opts.Backend,
		store:   artifact.NewStore(state),
		tracker: reservation.NewTracker(state),
		retry:   opts.QueryRetry,
	}
	if m.retry == nil {
		m.retry = retry.NewNoRetryStrategy()
	}
	if opts.Assembler != nil {
		m.migrator = migration.NewMigrator(opts.Assembler, opts.Query, m)
	}

	// A migration claim found in loaded state belonged to a process that
	// died mid-publication; its submission is over either way.
	if n := m.tracker.ReleaseTransient(); n > 0 {
		m.mu.Lock()
		err := m.persistLocked(ctx)
		m.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	slog.Info("Manager initialized",
		"network", state.Network,
		"artifacts", len(state.Artifacts),
		"reservations", len(state.Reservations),
	)
	return m, nil
}

// Compile compiles the named contract against a freshly reserved ledger
// input. Without force an existing artifact is never overwritten. On
// compiler failure the reservation is released: the input was not consumed.
func (m *Manager) Compile(ctx context.Context, name string, force bool) (*models.ContractArtifact, error) {
	if m.opts.Compiler == nil {
		return nil, errors.New("no contract compiler configured")
	}

	// Candidate query happens outside the lock; selection under it.
	candidates, err := m.opts.Query.UTXOsAt(ctx, m.opts.FundingAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to query funding inputs: %w", err)
	}

	purpose, project := purposeFor(name)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store.Has(name) && !force {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyCompiled, name)
	}

	r, err := m.tracker.Reserve(candidates, m.opts.MinCompilationInput, name, purpose, project)
	if err != nil {
		metrics.CompilationsTotal.WithLabelValues("no_input").Inc()
		return nil, err
	}

	params := map[string]string{
		"reference_input": r.Key.String(),
		"network":         m.state.Network,
		"name":            name,
	}
	if project != "" {
		params["project"] = project
	}

	compiled, err := m.opts.Compiler.Compile(ctx, m.sourceFor(name), params)
	if err != nil {
		m.tracker.Release(r.Key)
		metrics.CompilationsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}

	a := &models.ContractArtifact{
		Name:        name,
		PolicyID:    compiled.PolicyID,
		Addresses:   compiled.Addresses,
		StorageMode: models.StorageEmbedded,
		BytecodeHex: compiled.BytecodeHex,
	}
	if err := m.store.Upsert(a); err != nil {
		m.tracker.Release(r.Key)
		metrics.CompilationsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}

	if force {
		// Only the replaced compilation's own input stops being
		// load-bearing; siblings in the unit keep theirs.
		m.tracker.ReleaseOwnedExcept(name, r.Key)
	}

	metrics.CompilationsTotal.WithLabelValues("success").Inc()
	slog.Info("Contract compiled",
		"name", name,
		"policy_id", compiled.PolicyID,
		"reference_input", r.Key.String(),
	)

	if err := m.persistLocked(ctx); err != nil {
		// In-memory state stays authoritative for this process; the
		// caller decides whether to retrigger once persistence is back.
		return a.Clone(), err
	}
	return a.Clone(), nil
}

// MigrateToReference publishes the named artifact's bytecode into an
// on-chain reference output. The compilation lock is released while the
// submission is in flight and re-acquired only to commit the store update.
func (m *Manager) MigrateToReference(ctx context.Context, name string, destinationAddress string) (*models.ContractArtifact, error) {
	if m.migrator == nil {
		return nil, errors.New("no transaction assembler configured")
	}

	candidates, err := m.opts.Query.UTXOsAt(ctx, m.opts.FundingAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to query funding inputs: %w", err)
	}

	// The funding input is claimed before the lock is dropped, so a
	// compile running during the submission cannot parameterize a policy
	// on an input this transaction is about to spend.
	m.mu.Lock()
	funding, err := m.selectFundingLocked(candidates)
	if err == nil {
		_, err = m.tracker.Reserve([]chain.UTXO{funding}, 0, name, models.PurposeReferenceMigration, "")
	}
	m.mu.Unlock()
	if err != nil {
		metrics.MigrationsTotal.WithLabelValues("publish", "no_input").Inc()
		return nil, err
	}

	a, pubErr := m.migrator.Publish(ctx, name, funding, destinationAddress)

	// The claim only needs to outlive the submission: on success the input
	// is spent, on failure it goes back into the candidate pool. Persist so
	// no save made while the claim was held leaves it on disk.
	m.mu.Lock()
	m.tracker.Release(funding.Key())
	perr := m.persistLocked(ctx)
	m.mu.Unlock()

	if pubErr != nil {
		metrics.MigrationsTotal.WithLabelValues("publish", "failure").Inc()
		return nil, pubErr
	}
	metrics.MigrationsTotal.WithLabelValues("publish", "success").Inc()
	if perr != nil {
		return a, perr
	}
	return a, nil
}

// RetractReference spends the named artifact's reference output back to
// refundAddress. The artifact record itself is untouched; deletion remains
// a separate, guarded step.
func (m *Manager) RetractReference(ctx context.Context, name string, refundAddress string) (string, error) {
	if m.migrator == nil {
		return "", errors.New("no transaction assembler configured")
	}

	txID, err := m.migrator.Retract(ctx, name, refundAddress)
	if err != nil {
		metrics.MigrationsTotal.WithLabelValues("retract", "failure").Inc()
		return "", err
	}
	metrics.MigrationsTotal.WithLabelValues("retract", "success").Inc()
	return txID, nil
}

// DeleteIfEmpty removes the named artifact and its dependents once the
// live balance at its address is verified empty, then releases the
// reservations its compilation held.
func (m *Manager) DeleteIfEmpty(ctx context.Context, name string) error {
	probe := func(ctx context.Context, a *models.ContractArtifact) (artifact.Balance, error) {
		utxos, err := m.opts.Query.UTXOsAt(ctx, m.addressFor(a))
		if err != nil {
			return artifact.Balance{}, err
		}
		var b artifact.Balance
		for _, u := range utxos {
			b.Coin += u.Amount
			for _, qty := range u.Assets {
				b.Assets += qty
			}
		}
		return b, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	deleted, err := m.store.DeleteIfEmpty(ctx, name, probe)
	if err != nil {
		metrics.ArtifactDeletionsTotal.WithLabelValues("refused").Inc()
		return err
	}

	// Only the deleted artifacts' own inputs stop being load-bearing.
	m.tracker.ReleaseOwned(deleted...)

	metrics.ArtifactDeletionsTotal.WithLabelValues("success").Inc()
	return m.persistLocked(ctx)
}

// ValidateProjectTransition checks a proposed project record update before
// any transaction touching it is assembled.
func (m *Manager) ValidateProjectTransition(current, next *models.ProjectRecord, allowRevert bool) error {
	return lifecycle.ValidateProjectTransition(current, next, allowRevert)
}

// ValidateProtocolMutation checks a proposed protocol record update.
func (m *Manager) ValidateProtocolMutation(current, next *models.ProtocolRecord) error {
	return lifecycle.ValidateProtocolMutation(current, next)
}

// Reconcile fetches live chain state and releases reservations and
// reference pointers whose outputs no longer exist. Never runs concurrently
// with itself; idempotent for a fixed chain snapshot.
func (m *Manager) Reconcile(ctx context.Context) (reservation.ReconcileReport, error) {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	addresses := m.watchedAddresses()

	var live []chain.UTXO
	for _, addr := range addresses {
		err := m.retry.Execute(ctx, func() error {
			utxos, err := m.opts.Query.UTXOsAt(ctx, addr)
			if err != nil {
				return err
			}
			live = append(live, utxos...)
			return nil
		})
		if err != nil {
			return reservation.ReconcileReport{}, fmt.Errorf("failed to query utxos at %s: %w", addr, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	report := m.tracker.Reconcile(live, m.store)
	metrics.ReconcileRuns.Inc()

	if report.ReservationsReleased == 0 && report.ReferencesCleared == 0 {
		return report, nil
	}

	slog.Info("Reconcile released stale state",
		"reservations_released", report.ReservationsReleased,
		"references_cleared", report.ReferencesCleared,
	)
	return report, m.persistLocked(ctx)
}

// Artifact returns a copy of the named artifact.
func (m *Manager) Artifact(name string) (*models.ContractArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Get(name)
}

// Artifacts returns copies of all artifacts, sorted by name.
func (m *Manager) Artifacts() []*models.ContractArtifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.List()
}

// ReservedKeys returns the currently reserved input keys.
func (m *Manager) ReservedKeys() map[models.ReservationKey]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracker.ReservedKeys()
}

// GetArtifact implements migration.ArtifactCommitter.
func (m *Manager) GetArtifact(name string) (*models.ContractArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Get(name)
}

// CommitReference implements migration.ArtifactCommitter: it acquires the
// lock only for the final store update after submission succeeded.
func (m *Manager) CommitReference(ctx context.Context, name string, ref models.ScriptReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.SetReference(name, ref); err != nil {
		return err
	}
	return m.persistLocked(ctx)
}

// Close persists nothing further and releases the backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}

// persistLocked saves the full state; the caller holds m.mu.
func (m *Manager) persistLocked(ctx context.Context) error {
	start := time.Now()
	err := m.backend.Save(ctx, m.state)
	metrics.StateSaveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Error("Failed to persist state, in-memory state remains authoritative",
			"error", err,
		)
		return err
	}
	return nil
}

// selectFundingLocked picks the first candidate not reserved for a
// compilation and large enough to cover the reference deposit plus fees.
func (m *Manager) selectFundingLocked(candidates []chain.UTXO) (chain.UTXO, error) {
	reserved := m.tracker.ReservedKeys()
	for _, u := range candidates {
		if _, ok := reserved[u.Key()]; ok {
			continue
		}
		if u.HasAssets() {
			continue
		}
		if u.Amount >= migration.ReferenceScriptDeposit+fundingMargin {
			return u, nil
		}
	}
	return chain.UTXO{}, reservation.ErrNoSuitableInput
}

// watchedAddresses lists every address whose outputs back live state: the
// funding address plus each published reference holder.
func (m *Manager) watchedAddresses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := map[string]struct{}{m.opts.FundingAddress: {}}
	addresses := []string{m.opts.FundingAddress}
	for _, a := range m.store.List() {
		if a.StorageMode != models.StorageReference || a.Reference == nil {
			continue
		}
		if _, ok := seen[a.Reference.HolderAddress]; ok {
			continue
		}
		seen[a.Reference.HolderAddress] = struct{}{}
		addresses = append(addresses, a.Reference.HolderAddress)
	}
	return addresses
}

// addressFor picks the network-appropriate script address of an artifact.
func (m *Manager) addressFor(a *models.ContractArtifact) string {
	if m.state.Network == "mainnet" {
		return a.Addresses.Mainnet
	}
	return a.Addresses.Testnet
}

// sourceFor maps an artifact name to its contract source file. Project
// units share one parameterized source; the protocol unit has its own.
func (m *Manager) sourceFor(name string) string {
	base := "project.ak"
	if name == ProtocolContractName {
		base = "protocol.ak"
	}
	if m.opts.ContractSourceDir == "" {
		return base
	}
	return m.opts.ContractSourceDir + "/" + base
}

// purposeFor derives the reservation purpose and unit name from the
// artifact name. Dependent unit members (name_nfts, name_tokens) map to
// their primary's unit; anything else, protocol_v2 included, is its own.
func purposeFor(name string) (models.Purpose, string) {
	base := name
	for _, suffix := range []string{"_nfts", "_tokens"} {
		base = strings.TrimSuffix(base, suffix)
	}
	if base == ProtocolContractName {
		return models.PurposeProtocolCompilation, ""
	}
	return models.PurposeProjectCompilation, base
}
