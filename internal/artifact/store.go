package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"custodian/internal/metrics"
	"custodian/internal/models"
	"custodian/internal/storage"
)

// ErrNotFound is returned when an artifact name is unknown to the store.
var ErrNotFound = errors.New("artifact not found")

// ErrReferenceStillPublished refuses deletion of an artifact whose bytecode
// still sits in an on-chain reference output; the output must be retracted
// first so its value is recovered.
var ErrReferenceStillPublished = errors.New("artifact still has a published reference script, retract it first")

// Balance is what a balance probe found at an artifact's address.
type Balance struct {
	Coin   uint64
	Assets uint64
}

// IsZero reports whether the address held neither coin nor tokens.
func (b Balance) IsZero() bool {
	return b.Coin == 0 && b.Assets == 0
}

// BalanceProbe queries the live balance at an artifact's address. Supplied
// by the caller so the store itself never talks to the chain.
type BalanceProbe func(ctx context.Context, a *models.ContractArtifact) (Balance, error)

// NotEmptyError refuses a deletion because the artifact's address still
// holds value.
type NotEmptyError struct {
	Name    string
	Balance Balance
}

func (e *NotEmptyError) Error() string {
	return fmt.Sprintf("artifact %q address not empty: %d coin, %d token units",
		e.Name, e.Balance.Coin, e.Balance.Assets)
}

// dependentSuffixes name the artifacts that form one logical unit with a
// primary: the spending validator plus its minting policy and, when
// present, the derived token policy. Deletion cascades within the unit,
// never across units.
var dependentSuffixes = []string{"_nfts", "_tokens"}

// Store is the single source of truth for compiled artifacts. It operates
// on the shared persisted state; the owning manager serializes mutations
// under its lock and persists after every change.
type Store struct {
	state *storage.State
}

// NewStore creates a store over the shared persisted state.
func NewStore(state *storage.State) *Store {
	metrics.StoredArtifacts.Set(float64(len(state.Artifacts)))
	return &Store{state: state}
}

// Get returns a copy of the named artifact.
func (s *Store) Get(name string) (*models.ContractArtifact, error) {
	a, ok := s.state.Artifacts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return a.Clone(), nil
}

// Has reports whether the named artifact exists.
func (s *Store) Has(name string) bool {
	_, ok := s.state.Artifacts[name]
	return ok
}

// List returns copies of all artifacts, sorted by name.
func (s *Store) List() []*models.ContractArtifact {
	names := make([]string, 0, len(s.state.Artifacts))
	for name := range s.state.Artifacts {
		names = append(names, name)
	}
	sort.Strings(names)

	artifacts := make([]*models.ContractArtifact, 0, len(names))
	for _, name := range names {
		artifacts = append(artifacts, s.state.Artifacts[name].Clone())
	}
	return artifacts
}

// Upsert validates and stores an artifact, replacing any previous entry of
// the same name. A replacement is a new artifact: the policy id may differ
// from the one it displaces.
func (s *Store) Upsert(a *models.ContractArtifact) error {
	if a.Name == "" {
		return errors.New("artifact name must not be empty")
	}
	if err := a.Validate(); err != nil {
		return err
	}
	s.state.Artifacts[a.Name] = a.Clone()
	metrics.StoredArtifacts.Set(float64(len(s.state.Artifacts)))
	return nil
}

// SetReference flips an embedded artifact to reference storage, dropping
// the embedded bytecode in favor of the on-chain pointer.
func (s *Store) SetReference(name string, ref models.ScriptReference) error {
	a, ok := s.state.Artifacts[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if a.StorageMode != models.StorageEmbedded {
		return fmt.Errorf("artifact %q is not embedded (mode %q)", name, a.StorageMode)
	}
	a.StorageMode = models.StorageReference
	a.BytecodeHex = ""
	a.Reference = &ref
	slog.Info("Artifact storage switched to reference",
		"name", name,
		"tx_hash", ref.TxHash,
		"index", ref.Index,
	)
	return nil
}

// References implements reservation.ReferenceIndex: every output currently
// pointed at by a reference-mode artifact.
func (s *Store) References() map[models.ReservationKey][]string {
	refs := make(map[models.ReservationKey][]string)
	for name, a := range s.state.Artifacts {
		if a.StorageMode != models.StorageReference || a.Reference == nil {
			continue
		}
		key := models.ReservationKey{TxHash: a.Reference.TxHash, Index: a.Reference.Index}
		refs[key] = append(refs[key], name)
	}
	return refs
}

// ClearReference nulls out an artifact's reference pointer after its output
// was observed spent. The artifact stays in the store but is unusable until
// recompiled; load-time validation will drop it on the next restart.
func (s *Store) ClearReference(name string) {
	a, ok := s.state.Artifacts[name]
	if !ok {
		return
	}
	a.Reference = nil
}

// DeleteIfEmpty removes an artifact and its dependent unit members, guarded
// by the balance probe: if the artifact's address still holds coin or
// tokens the deletion is refused with NotEmptyError. A published reference
// script must be retracted before deletion so its deposit is recovered.
// Returns the names actually deleted so the caller can release exactly
// their reservations.
func (s *Store) DeleteIfEmpty(ctx context.Context, name string, probe BalanceProbe) ([]string, error) {
	a, ok := s.state.Artifacts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	if a.StorageMode == models.StorageReference && a.Reference != nil {
		return nil, fmt.Errorf("%w: %q", ErrReferenceStillPublished, name)
	}

	balance, err := probe(ctx, a.Clone())
	if err != nil {
		return nil, fmt.Errorf("balance probe for %q failed: %w", name, err)
	}
	if !balance.IsZero() {
		return nil, &NotEmptyError{Name: name, Balance: balance}
	}

	deleted := []string{name}
	delete(s.state.Artifacts, name)
	for _, suffix := range dependentSuffixes {
		dependent := name + suffix
		if _, ok := s.state.Artifacts[dependent]; ok {
			delete(s.state.Artifacts, dependent)
			deleted = append(deleted, dependent)
			slog.Info("Cascade-deleted dependent artifact", "name", dependent, "primary", name)
		}
	}
	metrics.StoredArtifacts.Set(float64(len(s.state.Artifacts)))

	slog.Info("Deleted artifact", "name", name)
	return deleted, nil
}
