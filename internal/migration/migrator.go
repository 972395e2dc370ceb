package migration

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"custodian/internal/chain"
	"custodian/internal/models"
)

// ReferenceScriptDeposit is the coin value locked alongside published
// bytecode so the reference output satisfies the ledger's minimum value.
// Recovered when the output is retracted.
const ReferenceScriptDeposit uint64 = 20_000_000

// MigrationError reports a failed storage-mode migration. The artifact is
// left exactly as it was: no partial state is persisted on failure.
type MigrationError struct {
	Stage string
	Err   error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s failed: %v", e.Stage, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// ArtifactCommitter is the slice of the manager the migrator commits
// through. Its methods acquire the store lock and persist, so the migrator
// never holds the compilation lock across a chain submission.
type ArtifactCommitter interface {
	// GetArtifact returns a copy of the named artifact.
	GetArtifact(name string) (*models.ContractArtifact, error)

	// CommitReference records the published output coordinates for an
	// embedded artifact and persists the change.
	CommitReference(ctx context.Context, name string, ref models.ScriptReference) error
}

// Migrator moves a contract's storage representation between embedded
// bytecode and an on-chain reference output. It performs no retries:
// fee and input selection shift underneath a blind resubmission, so a
// failed submission always surfaces to the caller unchanged.
type Migrator struct {
	assembler chain.Assembler
	query     chain.Query
	committer ArtifactCommitter
}

// NewMigrator creates a migrator over the chain collaborators and the
// committing store facade.
func NewMigrator(assembler chain.Assembler, query chain.Query, committer ArtifactCommitter) *Migrator {
	return &Migrator{
		assembler: assembler,
		query:     query,
		committer: committer,
	}
}

// Publish spends fundingInput into a new output at destinationAddress
// carrying the artifact's bytecode, then flips the artifact to reference
// storage. The store update happens only after confirmed submission; if
// submission fails the artifact stays embedded. A crash between submission
// and the store update leaves a paid-for output the store does not know
// about; that window is reconciled manually.
func (m *Migrator) Publish(ctx context.Context, name string, fundingInput chain.UTXO, destinationAddress string) (*models.ContractArtifact, error) {
	a, err := m.committer.GetArtifact(name)
	if err != nil {
		return nil, &MigrationError{Stage: "publish", Err: err}
	}
	if a.StorageMode != models.StorageEmbedded {
		return nil, &MigrationError{Stage: "publish",
			Err: fmt.Errorf("artifact %q is not embedded (mode %q)", name, a.StorageMode)}
	}
	if _, err := hex.DecodeString(a.BytecodeHex); err != nil {
		return nil, &MigrationError{Stage: "publish",
			Err: fmt.Errorf("artifact %q bytecode is not valid hex: %w", name, err)}
	}

	outputs := []chain.TxOutput{
		{
			Address:   destinationAddress,
			Amount:    ReferenceScriptDeposit,
			ScriptHex: a.BytecodeHex,
		},
	}

	slog.Info("Publishing reference script",
		"artifact", name,
		"funding_input", fundingInput.Key().String(),
		"destination", destinationAddress,
	)

	txID, err := m.assembler.BuildAndSubmit(ctx, []chain.UTXO{fundingInput}, outputs, nil)
	if err != nil {
		return nil, &MigrationError{Stage: "publish", Err: err}
	}

	ref := models.ScriptReference{
		TxHash:        txID,
		Index:         0, // reference output is always the first output
		HolderAddress: destinationAddress,
	}
	if err := m.committer.CommitReference(ctx, name, ref); err != nil {
		// Submission already happened; surface the store failure rather
		// than pretending the migration did not occur.
		return nil, &MigrationError{Stage: "commit", Err: err}
	}

	slog.Info("Reference script published",
		"artifact", name,
		"tx_hash", txID,
	)

	updated, err := m.committer.GetArtifact(name)
	if err != nil {
		return nil, &MigrationError{Stage: "commit", Err: err}
	}
	return updated, nil
}

// Retract spends the reference output back to refundAddress, recovering its
// deposit. It never deletes the artifact itself: deletion is a separate
// caller step so the is-the-address-empty check stays authoritative at the
// point of deletion.
func (m *Migrator) Retract(ctx context.Context, name string, refundAddress string) (string, error) {
	a, err := m.committer.GetArtifact(name)
	if err != nil {
		return "", &MigrationError{Stage: "retract", Err: err}
	}
	if a.StorageMode != models.StorageReference || a.Reference == nil {
		return "", &MigrationError{Stage: "retract",
			Err: fmt.Errorf("artifact %q has no published reference script", name)}
	}

	holderUTXOs, err := m.query.UTXOsAt(ctx, a.Reference.HolderAddress)
	if err != nil {
		return "", &MigrationError{Stage: "retract", Err: err}
	}

	var refOutput *chain.UTXO
	for i, u := range holderUTXOs {
		if u.TxHash == a.Reference.TxHash && u.Index == a.Reference.Index {
			refOutput = &holderUTXOs[i]
			break
		}
	}
	if refOutput == nil {
		return "", &MigrationError{Stage: "retract",
			Err: fmt.Errorf("reference output %s#%d not found at holder address (already spent?)",
				a.Reference.TxHash, a.Reference.Index)}
	}

	outputs := []chain.TxOutput{
		{
			Address: refundAddress,
			Amount:  refOutput.Amount,
			Assets:  refOutput.Assets,
		},
	}

	txID, err := m.assembler.BuildAndSubmit(ctx, []chain.UTXO{*refOutput}, outputs, nil)
	if err != nil {
		return "", &MigrationError{Stage: "retract", Err: err}
	}

	slog.Info("Reference script retracted",
		"artifact", name,
		"tx_hash", txID,
		"refund_address", refundAddress,
	)
	return txID, nil
}
