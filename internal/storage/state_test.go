package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"custodian/internal/models"
)

func sampleState() *State {
	state := NewState("testnet")
	state.Reservations = []models.Reservation{
		{
			Key:        models.ReservationKey{TxHash: strings.Repeat("aa", 32), Index: 0},
			Amount:     5_000_000,
			Artifact:   "protocol",
			Purpose:    models.PurposeProtocolCompilation,
			ReservedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}
	state.Artifacts["protocol"] = &models.ContractArtifact{
		Name:        "protocol",
		PolicyID:    strings.Repeat("ab", 28),
		Addresses:   models.Addresses{Testnet: "addr_test1_p", Mainnet: "addr1_p"},
		StorageMode: models.StorageEmbedded,
		BytecodeHex: "590100aabb",
	}
	state.Artifacts["project_3"] = &models.ContractArtifact{
		Name:        "project_3",
		PolicyID:    strings.Repeat("cd", 28),
		Addresses:   models.Addresses{Testnet: "addr_test1_3", Mainnet: "addr1_3"},
		StorageMode: models.StorageReference,
		Reference: &models.ScriptReference{
			TxHash:        strings.Repeat("ee", 32),
			Index:         0,
			HolderAddress: "addr_test1_holder",
		},
	}
	return state
}

func TestEncodeDecodeState_RoundTrip(t *testing.T) {
	data, err := EncodeState(sampleState())
	if err != nil {
		t.Fatalf("EncodeState failed: %v", err)
	}

	decoded, err := DecodeState(data)
	if err != nil {
		t.Fatalf("DecodeState failed: %v", err)
	}

	if decoded.Network != "testnet" {
		t.Errorf("Unexpected network: %s", decoded.Network)
	}
	if len(decoded.Reservations) != 1 {
		t.Fatalf("Expected 1 reservation, got %d", len(decoded.Reservations))
	}
	if decoded.Reservations[0].Key.TxHash != strings.Repeat("aa", 32) {
		t.Errorf("Reservation key lost: %+v", decoded.Reservations[0])
	}
	if decoded.Reservations[0].Artifact != "protocol" {
		t.Errorf("Reservation owner lost: %+v", decoded.Reservations[0])
	}
	if len(decoded.Artifacts) != 2 {
		t.Fatalf("Expected 2 artifacts, got %d", len(decoded.Artifacts))
	}

	ref := decoded.Artifacts["project_3"]
	if ref.StorageMode != models.StorageReference || ref.Reference == nil {
		t.Errorf("Reference artifact mangled: %+v", ref)
	}
	if ref.Name != "project_3" {
		t.Errorf("Artifact name not restored from map key: %q", ref.Name)
	}
}

func TestDecodeState_MigratesV1(t *testing.T) {
	v1 := `{
		"network": "testnet",
		"compilation_reservations": [
			{"utxo": "` + strings.Repeat("aa", 32) + `#3", "amount": 5000000, "purpose": "protocol_compilation"}
		],
		"artifacts": {
			"protocol": {
				"policy_id": "` + strings.Repeat("ab", 28) + `",
				"addresses": {"testnet": "addr_test1_p", "mainnet": "addr1_p"},
				"bytecode_hex": "590100aabb"
			},
			"project_3": {
				"policy_id": "` + strings.Repeat("cd", 28) + `",
				"addresses": {"testnet": "addr_test1_3", "mainnet": "addr1_3"},
				"reference": {"tx_hash": "` + strings.Repeat("ee", 32) + `", "index": 0, "holder_address": "addr_test1_h"}
			}
		}
	}`

	state, err := DecodeState([]byte(v1))
	if err != nil {
		t.Fatalf("DecodeState failed on v1 document: %v", err)
	}

	if len(state.Reservations) != 1 {
		t.Fatalf("Expected 1 reservation, got %d", len(state.Reservations))
	}
	r := state.Reservations[0]
	if r.Key.TxHash != strings.Repeat("aa", 32) || r.Key.Index != 3 {
		t.Errorf("Legacy utxo reference not split: %+v", r.Key)
	}
	if r.Artifact != "protocol" {
		t.Errorf("Legacy reservation owner not backfilled: %+v", r)
	}

	// Storage mode inferred from the populated payload
	if got := state.Artifacts["protocol"].StorageMode; got != models.StorageEmbedded {
		t.Errorf("Expected embedded mode inferred, got %s", got)
	}
	if got := state.Artifacts["project_3"].StorageMode; got != models.StorageReference {
		t.Errorf("Expected reference mode inferred, got %s", got)
	}
}

func TestDecodeState_BackfillsReservationOwner(t *testing.T) {
	// A current-version document written before reservations carried an
	// owning artifact: the owner is derived from the project field.
	doc := `{
		"schema_version": 2,
		"network": "testnet",
		"compilation_reservations": [
			{"tx_hash": "` + strings.Repeat("aa", 32) + `", "index": 0, "amount": 5000000,
			 "purpose": "project_compilation", "project": "project_3"}
		],
		"artifacts": {}
	}`

	state, err := DecodeState([]byte(doc))
	if err != nil {
		t.Fatalf("DecodeState failed: %v", err)
	}
	if len(state.Reservations) != 1 {
		t.Fatalf("Expected 1 reservation, got %d", len(state.Reservations))
	}
	if state.Reservations[0].Artifact != "project_3" {
		t.Errorf("Owner not backfilled from project: %+v", state.Reservations[0])
	}
}

func TestDecodeState_RejectsUnknownVersion(t *testing.T) {
	doc := `{"schema_version": 99, "network": "testnet", "artifacts": {}}`

	if _, err := DecodeState([]byte(doc)); err == nil {
		t.Error("Expected error for unrecognized schema version")
	}
}

func TestDecodeState_DropsInvalidArtifacts(t *testing.T) {
	state := sampleState()
	// Corrupt one artifact: embedded mode with no bytecode
	state.Artifacts["protocol"].BytecodeHex = ""

	data, err := EncodeState(state)
	if err != nil {
		t.Fatalf("EncodeState failed: %v", err)
	}

	decoded, err := DecodeState(data)
	if err != nil {
		t.Fatalf("DecodeState failed: %v", err)
	}

	// The corrupt entry is dropped, the rest survives
	if _, ok := decoded.Artifacts["protocol"]; ok {
		t.Error("Invalid artifact survived decoding")
	}
	if _, ok := decoded.Artifacts["project_3"]; !ok {
		t.Error("Valid artifact was dropped alongside the invalid one")
	}
}

func TestFileBackend_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, "testnet")
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}

	// Fresh deployment: empty state, no error
	state, err := backend.Load(context.Background())
	if err != nil {
		t.Fatalf("Load on missing file failed: %v", err)
	}
	if len(state.Artifacts) != 0 || state.Network != "testnet" {
		t.Errorf("Expected empty testnet state, got %+v", state)
	}

	if err := backend.Save(context.Background(), sampleState()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, err := backend.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(reloaded.Artifacts) != 2 || len(reloaded.Reservations) != 1 {
		t.Errorf("State not round-tripped: %d artifacts, %d reservations",
			len(reloaded.Artifacts), len(reloaded.Reservations))
	}
}
