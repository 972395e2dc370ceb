package migration

import (
	"context"
	"errors"
	"strings"
	"testing"

	"custodian/internal/chain"
	"custodian/internal/models"
)

// fakeCommitter keeps artifacts in a map and records commits.
type fakeCommitter struct {
	artifacts map[string]*models.ContractArtifact
	commitErr error
}

func (f *fakeCommitter) GetArtifact(name string) (*models.ContractArtifact, error) {
	a, ok := f.artifacts[name]
	if !ok {
		return nil, errors.New("artifact not found")
	}
	return a.Clone(), nil
}

func (f *fakeCommitter) CommitReference(ctx context.Context, name string, ref models.ScriptReference) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	a := f.artifacts[name]
	a.StorageMode = models.StorageReference
	a.BytecodeHex = ""
	a.Reference = &ref
	return nil
}

// fakeAssembler records the last submission or fails on demand.
type fakeAssembler struct {
	txID    string
	err     error
	inputs  []chain.UTXO
	outputs []chain.TxOutput
	calls   int
}

func (f *fakeAssembler) BuildAndSubmit(ctx context.Context, inputs []chain.UTXO, outputs []chain.TxOutput, mint []chain.MintSpec) (string, error) {
	f.calls++
	f.inputs = inputs
	f.outputs = outputs
	if f.err != nil {
		return "", f.err
	}
	return f.txID, nil
}

// fakeQuery serves canned UTXOs per address.
type fakeQuery struct {
	utxos map[string][]chain.UTXO
}

func (f *fakeQuery) UTXOsAt(ctx context.Context, address string) ([]chain.UTXO, error) {
	return f.utxos[address], nil
}

func embeddedArtifact() *models.ContractArtifact {
	return &models.ContractArtifact{
		Name:        "protocol",
		PolicyID:    strings.Repeat("ab", 28),
		Addresses:   models.Addresses{Testnet: "addr_test1_p", Mainnet: "addr1_p"},
		StorageMode: models.StorageEmbedded,
		BytecodeHex: "590100aabb",
	}
}

func fundingInput() chain.UTXO {
	return chain.UTXO{
		TxHash:  strings.Repeat("aa", 32),
		Index:   0,
		Address: "addr_test1_funding",
		Amount:  30_000_000,
	}
}

func TestMigrator_Publish(t *testing.T) {
	committer := &fakeCommitter{artifacts: map[string]*models.ContractArtifact{
		"protocol": embeddedArtifact(),
	}}
	assembler := &fakeAssembler{txID: strings.Repeat("ff", 32)}
	migrator := NewMigrator(assembler, &fakeQuery{}, committer)

	a, err := migrator.Publish(context.Background(), "protocol", fundingInput(), "addr_test1_holder")
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if a.StorageMode != models.StorageReference {
		t.Errorf("Expected reference mode after publish, got %s", a.StorageMode)
	}
	if a.Reference == nil || a.Reference.TxHash != assembler.txID || a.Reference.Index != 0 {
		t.Errorf("Reference pointer wrong: %+v", a.Reference)
	}

	if len(assembler.outputs) != 1 {
		t.Fatalf("Expected 1 output, got %d", len(assembler.outputs))
	}
	out := assembler.outputs[0]
	if out.ScriptHex != "590100aabb" {
		t.Errorf("Bytecode not attached to the published output: %q", out.ScriptHex)
	}
	if out.Address != "addr_test1_holder" {
		t.Errorf("Wrong destination address: %s", out.Address)
	}
}

func TestMigrator_Publish_SubmissionFailureLeavesArtifactUntouched(t *testing.T) {
	committer := &fakeCommitter{artifacts: map[string]*models.ContractArtifact{
		"protocol": embeddedArtifact(),
	}}
	assembler := &fakeAssembler{err: errors.New("fee too small")}
	migrator := NewMigrator(assembler, &fakeQuery{}, committer)

	_, err := migrator.Publish(context.Background(), "protocol", fundingInput(), "addr_test1_holder")

	var migErr *MigrationError
	if !errors.As(err, &migErr) {
		t.Fatalf("Expected MigrationError, got: %v", err)
	}

	// No partial state: the artifact is still embedded
	a := committer.artifacts["protocol"]
	if a.StorageMode != models.StorageEmbedded {
		t.Errorf("Artifact mode changed despite failed submission: %s", a.StorageMode)
	}
	if a.BytecodeHex == "" || a.Reference != nil {
		t.Errorf("Artifact payload mutated despite failed submission: %+v", a)
	}
}

func TestMigrator_Publish_RejectsNonEmbedded(t *testing.T) {
	a := embeddedArtifact()
	a.StorageMode = models.StorageReference
	a.BytecodeHex = ""
	a.Reference = &models.ScriptReference{TxHash: strings.Repeat("ee", 32), Index: 0, HolderAddress: "addr_test1_h"}

	committer := &fakeCommitter{artifacts: map[string]*models.ContractArtifact{"protocol": a}}
	assembler := &fakeAssembler{txID: strings.Repeat("ff", 32)}
	migrator := NewMigrator(assembler, &fakeQuery{}, committer)

	if _, err := migrator.Publish(context.Background(), "protocol", fundingInput(), "addr_test1_holder"); err == nil {
		t.Error("Expected error publishing an already-reference artifact")
	}
	if assembler.calls != 0 {
		t.Error("Assembler invoked for an invalid publish")
	}
}

func TestMigrator_Retract(t *testing.T) {
	a := embeddedArtifact()
	a.StorageMode = models.StorageReference
	a.BytecodeHex = ""
	a.Reference = &models.ScriptReference{
		TxHash:        strings.Repeat("ee", 32),
		Index:         0,
		HolderAddress: "addr_test1_holder",
	}

	committer := &fakeCommitter{artifacts: map[string]*models.ContractArtifact{"protocol": a}}
	assembler := &fakeAssembler{txID: strings.Repeat("dd", 32)}
	query := &fakeQuery{utxos: map[string][]chain.UTXO{
		"addr_test1_holder": {
			{TxHash: strings.Repeat("ee", 32), Index: 0, Address: "addr_test1_holder", Amount: ReferenceScriptDeposit},
		},
	}}
	migrator := NewMigrator(assembler, query, committer)

	txID, err := migrator.Retract(context.Background(), "protocol", "addr_test1_refund")
	if err != nil {
		t.Fatalf("Retract failed: %v", err)
	}
	if txID != assembler.txID {
		t.Errorf("Unexpected tx id: %s", txID)
	}

	if len(assembler.inputs) != 1 || assembler.inputs[0].TxHash != strings.Repeat("ee", 32) {
		t.Errorf("Retract did not spend the reference output: %+v", assembler.inputs)
	}
	if assembler.outputs[0].Address != "addr_test1_refund" || assembler.outputs[0].Amount != ReferenceScriptDeposit {
		t.Errorf("Refund output wrong: %+v", assembler.outputs[0])
	}

	// The artifact record is untouched; deletion is the caller's step
	if committer.artifacts["protocol"].Reference == nil {
		t.Error("Retract mutated the artifact record")
	}
}

func TestMigrator_Retract_MissingOutput(t *testing.T) {
	a := embeddedArtifact()
	a.StorageMode = models.StorageReference
	a.BytecodeHex = ""
	a.Reference = &models.ScriptReference{
		TxHash:        strings.Repeat("ee", 32),
		Index:         0,
		HolderAddress: "addr_test1_holder",
	}

	committer := &fakeCommitter{artifacts: map[string]*models.ContractArtifact{"protocol": a}}
	assembler := &fakeAssembler{txID: strings.Repeat("dd", 32)}
	query := &fakeQuery{utxos: map[string][]chain.UTXO{}} // already spent

	migrator := NewMigrator(assembler, query, committer)

	if _, err := migrator.Retract(context.Background(), "protocol", "addr_test1_refund"); err == nil {
		t.Error("Expected error when the reference output is gone")
	}
	if assembler.calls != 0 {
		t.Error("Assembler invoked despite missing reference output")
	}
}
