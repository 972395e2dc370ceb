package artifact

import (
	"context"
	"errors"
	"strings"
	"testing"

	"custodian/internal/models"
	"custodian/internal/storage"
)

func embeddedArtifact(name string) *models.ContractArtifact {
	return &models.ContractArtifact{
		Name:     name,
		PolicyID: strings.Repeat("ab", 28),
		Addresses: models.Addresses{
			Testnet: "addr_test1_" + name,
			Mainnet: "addr1_" + name,
		},
		StorageMode: models.StorageEmbedded,
		BytecodeHex: "59012345",
	}
}

func emptyProbe(ctx context.Context, a *models.ContractArtifact) (Balance, error) {
	return Balance{}, nil
}

func TestStore_UpsertAndGet(t *testing.T) {
	store := NewStore(storage.NewState("testnet"))

	if err := store.Upsert(embeddedArtifact("protocol")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := store.Get("protocol")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.PolicyID != strings.Repeat("ab", 28) {
		t.Errorf("Unexpected policy id: %s", got.PolicyID)
	}

	// Mutating the returned copy must not touch the stored artifact
	got.PolicyID = "tampered"
	again, _ := store.Get("protocol")
	if again.PolicyID == "tampered" {
		t.Error("Get returned a reference into store state")
	}
}

func TestStore_Upsert_RejectsInvalid(t *testing.T) {
	store := NewStore(storage.NewState("testnet"))

	a := embeddedArtifact("broken")
	a.BytecodeHex = "" // embedded with no payload

	if err := store.Upsert(a); err == nil {
		t.Error("Expected validation error for embedded artifact without bytecode")
	}
}

func TestStore_SetReference(t *testing.T) {
	store := NewStore(storage.NewState("testnet"))
	if err := store.Upsert(embeddedArtifact("protocol")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	ref := models.ScriptReference{
		TxHash:        strings.Repeat("cd", 32),
		Index:         0,
		HolderAddress: "addr_test1_holder",
	}
	if err := store.SetReference("protocol", ref); err != nil {
		t.Fatalf("SetReference failed: %v", err)
	}

	got, _ := store.Get("protocol")
	if got.StorageMode != models.StorageReference {
		t.Errorf("Expected reference mode, got %s", got.StorageMode)
	}
	if got.BytecodeHex != "" {
		t.Error("Embedded bytecode survived the migration to reference storage")
	}
	if got.Reference == nil || got.Reference.TxHash != ref.TxHash {
		t.Errorf("Reference pointer not recorded: %+v", got.Reference)
	}

	// Flipping an already-reference artifact again is an error
	if err := store.SetReference("protocol", ref); err == nil {
		t.Error("Expected error when setting reference on a non-embedded artifact")
	}
}

func TestStore_DeleteIfEmpty_RefusesNonZeroBalance(t *testing.T) {
	store := NewStore(storage.NewState("testnet"))
	if err := store.Upsert(embeddedArtifact("project_3")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	probe := func(ctx context.Context, a *models.ContractArtifact) (Balance, error) {
		return Balance{Coin: 2_000_000, Assets: 3}, nil
	}

	// Repeated attempts must keep refusing while the balance is nonzero
	for i := 0; i < 3; i++ {
		_, err := store.DeleteIfEmpty(context.Background(), "project_3", probe)
		var notEmpty *NotEmptyError
		if !errors.As(err, &notEmpty) {
			t.Fatalf("Attempt %d: expected NotEmptyError, got: %v", i+1, err)
		}
		if notEmpty.Balance.Coin != 2_000_000 || notEmpty.Balance.Assets != 3 {
			t.Errorf("Unexpected balance in error: %+v", notEmpty.Balance)
		}
	}

	if !store.Has("project_3") {
		t.Error("Artifact was deleted despite nonzero balance")
	}
}

func TestStore_DeleteIfEmpty_CascadesWithinUnit(t *testing.T) {
	store := NewStore(storage.NewState("testnet"))
	for _, name := range []string{"project_3", "project_3_nfts", "project_3_tokens", "project_4"} {
		if err := store.Upsert(embeddedArtifact(name)); err != nil {
			t.Fatalf("Upsert %s failed: %v", name, err)
		}
	}

	deleted, err := store.DeleteIfEmpty(context.Background(), "project_3", emptyProbe)
	if err != nil {
		t.Fatalf("DeleteIfEmpty failed: %v", err)
	}
	if len(deleted) != 3 {
		t.Errorf("Expected 3 deleted names reported, got %v", deleted)
	}

	for _, name := range []string{"project_3", "project_3_nfts", "project_3_tokens"} {
		if store.Has(name) {
			t.Errorf("Expected %s deleted as part of the unit", name)
		}
	}
	// Unrelated unit untouched
	if !store.Has("project_4") {
		t.Error("Cascade crossed into an unrelated unit")
	}
}

func TestStore_DeleteIfEmpty_RefusesPublishedReference(t *testing.T) {
	store := NewStore(storage.NewState("testnet"))
	if err := store.Upsert(embeddedArtifact("protocol")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	ref := models.ScriptReference{TxHash: strings.Repeat("cd", 32), Index: 0, HolderAddress: "addr_test1_holder"}
	if err := store.SetReference("protocol", ref); err != nil {
		t.Fatalf("SetReference failed: %v", err)
	}

	_, err := store.DeleteIfEmpty(context.Background(), "protocol", emptyProbe)
	if !errors.Is(err, ErrReferenceStillPublished) {
		t.Errorf("Expected ErrReferenceStillPublished, got: %v", err)
	}
}

func TestStore_References(t *testing.T) {
	store := NewStore(storage.NewState("testnet"))
	if err := store.Upsert(embeddedArtifact("protocol")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := store.Upsert(embeddedArtifact("project_3")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	ref := models.ScriptReference{TxHash: strings.Repeat("cd", 32), Index: 1, HolderAddress: "addr_test1_holder"}
	if err := store.SetReference("protocol", ref); err != nil {
		t.Fatalf("SetReference failed: %v", err)
	}

	refs := store.References()
	key := models.ReservationKey{TxHash: ref.TxHash, Index: ref.Index}
	if names := refs[key]; len(names) != 1 || names[0] != "protocol" {
		t.Errorf("Unexpected reference index: %v", refs)
	}

	store.ClearReference("protocol")
	if len(store.References()) != 0 {
		t.Error("Reference index not empty after clearing")
	}
}
