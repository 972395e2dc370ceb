package reservation

import (
	"errors"
	"log/slog"
	"time"

	"custodian/internal/chain"
	"custodian/internal/metrics"
	"custodian/internal/models"
	"custodian/internal/storage"
)

// ErrNoSuitableInput means no candidate input met the minimum amount after
// excluding reserved ones. Funding the wallet is an external precondition;
// the tracker never retries on its own.
var ErrNoSuitableInput = errors.New("no suitable ledger input available for reservation")

// ReferenceIndex is the slice of the artifact store the reconcile pass
// needs: which ledger outputs are referenced by artifacts, and the ability
// to clear a pointer whose output vanished.
type ReferenceIndex interface {
	// References maps referenced output keys to the artifact names
	// pointing at them.
	References() map[models.ReservationKey][]string

	// ClearReference nulls out the reference pointer of an artifact.
	ClearReference(name string)
}

// ReconcileReport counts what a reconcile pass cleaned up.
type ReconcileReport struct {
	ReservationsReleased int
	ReferencesCleared    int
}

// Tracker hands out ledger inputs for compilation such that no two
// compilations reuse the same input. A minting policy is parameterized by
// the one-time-spendable input it consumes; reusing an input would either
// fail on-chain or produce two indistinguishable policies. The tracker
// prevents that before the chain ever sees the transaction.
//
// The tracker is not self-locking: the owning manager serializes all calls
// under its compilation lock.
type Tracker struct {
	state *storage.State
	now   func() time.Time
}

// NewTracker creates a tracker over the shared persisted state.
func NewTracker(state *storage.State) *Tracker {
	t := &Tracker{
		state: state,
		now:   time.Now,
	}
	metrics.ActiveReservations.Set(float64(len(state.Reservations)))
	return t
}

// Reserve scans candidates in the stable order returned by the chain query,
// skipping inputs already reserved, and claims the first one whose value
// meets minAmount. A reserved candidate is a conflict resolved internally
// by advancing to the next; callers only ever see ErrNoSuitableInput.
// The claim is owned by the named artifact: it is released only when that
// input is observed spent or when that exact artifact goes away.
func (t *Tracker) Reserve(candidates []chain.UTXO, minAmount uint64, owner string, purpose models.Purpose, project string) (*models.Reservation, error) {
	for _, utxo := range candidates {
		key := utxo.Key()
		if t.isReserved(key) {
			slog.Debug("Skipping reserved candidate input", "key", key.String())
			continue
		}
		if utxo.Amount < minAmount {
			continue
		}
		if utxo.HasAssets() {
			// Consuming a token-carrying input would strand its assets
			// in the compilation transaction change handling.
			continue
		}

		r := models.Reservation{
			Key:        key,
			Amount:     utxo.Amount,
			Artifact:   owner,
			Purpose:    purpose,
			Project:    project,
			ReservedAt: t.now().UTC(),
		}
		t.state.Reservations = append(t.state.Reservations, r)
		metrics.ActiveReservations.Set(float64(len(t.state.Reservations)))

		slog.Info("Reserved ledger input",
			"key", key.String(),
			"amount", utxo.Amount,
			"artifact", owner,
			"purpose", purpose,
			"project", project,
		)
		return &r, nil
	}

	return nil, ErrNoSuitableInput
}

// Release removes a reservation. Idempotent: releasing an absent key is a
// no-op and reports false.
func (t *Tracker) Release(key models.ReservationKey) bool {
	for i, r := range t.state.Reservations {
		if r.Key == key {
			t.state.Reservations = append(t.state.Reservations[:i], t.state.Reservations[i+1:]...)
			metrics.ActiveReservations.Set(float64(len(t.state.Reservations)))
			slog.Info("Released reservation", "key", key.String())
			return true
		}
	}
	return false
}

// ReleaseOwned removes the reservations owned by the named artifacts,
// returning how many were released. Used when exactly those artifacts are
// deleted; reservations of sibling artifacts in the same unit stay put.
func (t *Tracker) ReleaseOwned(owners ...string) int {
	set := make(map[string]struct{}, len(owners))
	for _, o := range owners {
		set[o] = struct{}{}
	}

	released := 0
	kept := t.state.Reservations[:0]
	for _, r := range t.state.Reservations {
		if _, ok := set[r.Artifact]; ok {
			released++
			slog.Info("Released reservation", "key", r.Key.String(), "artifact", r.Artifact)
			continue
		}
		kept = append(kept, r)
	}
	t.state.Reservations = kept
	metrics.ActiveReservations.Set(float64(len(t.state.Reservations)))
	return released
}

// ReleaseOwnedExcept is ReleaseOwned for one artifact, sparing one key.
// Used after a forced recompile: the replaced compilation's reservation
// goes, the fresh one stays.
func (t *Tracker) ReleaseOwnedExcept(owner string, keep models.ReservationKey) int {
	released := 0
	kept := t.state.Reservations[:0]
	for _, r := range t.state.Reservations {
		if r.Artifact == owner && r.Key != keep {
			released++
			slog.Info("Released superseded reservation", "key", r.Key.String(), "artifact", owner)
			continue
		}
		kept = append(kept, r)
	}
	t.state.Reservations = kept
	metrics.ActiveReservations.Set(float64(len(t.state.Reservations)))
	return released
}

// ReleaseTransient drops in-flight migration claims. They guard a funding
// input only while a submission is in flight, so any claim found in loaded
// state belonged to a process that died mid-publication.
func (t *Tracker) ReleaseTransient() int {
	released := 0
	kept := t.state.Reservations[:0]
	for _, r := range t.state.Reservations {
		if r.Purpose == models.PurposeReferenceMigration {
			released++
			slog.Warn("Dropping stale migration claim from loaded state", "key", r.Key.String(), "artifact", r.Artifact)
			continue
		}
		kept = append(kept, r)
	}
	t.state.Reservations = kept
	metrics.ActiveReservations.Set(float64(len(t.state.Reservations)))
	return released
}

// ReservedKeys returns the set of currently reserved input keys. Other
// components exclude these from their own input selection.
func (t *Tracker) ReservedKeys() map[models.ReservationKey]struct{} {
	keys := make(map[models.ReservationKey]struct{}, len(t.state.Reservations))
	for _, r := range t.state.Reservations {
		keys[r.Key] = struct{}{}
	}
	return keys
}

// Reconcile releases reservations whose inputs no longer exist on chain and
// clears artifact reference pointers whose outputs vanished. Idempotent for
// a fixed snapshot: a second pass over the same live set cleans up nothing.
func (t *Tracker) Reconcile(liveUTXOs []chain.UTXO, refs ReferenceIndex) ReconcileReport {
	live := make(map[models.ReservationKey]struct{}, len(liveUTXOs))
	for _, u := range liveUTXOs {
		live[u.Key()] = struct{}{}
	}

	var report ReconcileReport

	kept := t.state.Reservations[:0]
	for _, r := range t.state.Reservations {
		if _, ok := live[r.Key]; ok {
			kept = append(kept, r)
			continue
		}
		report.ReservationsReleased++
		slog.Info("Releasing stale reservation, input spent elsewhere",
			"key", r.Key.String(),
			"purpose", r.Purpose,
			"reserved_at", r.ReservedAt,
		)
	}
	t.state.Reservations = kept
	metrics.ActiveReservations.Set(float64(len(t.state.Reservations)))

	for key, names := range refs.References() {
		if _, ok := live[key]; ok {
			continue
		}
		for _, name := range names {
			slog.Warn("Clearing dangling reference pointer, output spent",
				"artifact", name,
				"key", key.String(),
			)
			refs.ClearReference(name)
			report.ReferencesCleared++
		}
	}

	metrics.ReconcileReservationsReleased.Add(float64(report.ReservationsReleased))
	metrics.ReconcileReferencesCleared.Add(float64(report.ReferencesCleared))

	return report
}

// isReserved reports whether a key is in the active set.
func (t *Tracker) isReserved(key models.ReservationKey) bool {
	for _, r := range t.state.Reservations {
		if r.Key == key {
			return true
		}
	}
	return false
}
