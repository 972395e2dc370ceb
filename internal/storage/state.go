package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"custodian/internal/models"
)

// CurrentSchemaVersion is the version written by Save. Load upgrades older
// versions through one migration step per bump and rejects anything newer
// or unrecognized.
const CurrentSchemaVersion = 2

// State is the full persisted state of the manager for one network:
// every compiled artifact plus the active compilation reservations.
type State struct {
	Network      string
	Reservations []models.Reservation
	Artifacts    map[string]*models.ContractArtifact
}

// NewState returns an empty state for the given network.
func NewState(network string) *State {
	return &State{
		Network:   network,
		Artifacts: make(map[string]*models.ContractArtifact),
	}
}

// stateDoc is the on-disk / in-column shape of State, current version.
type stateDoc struct {
	SchemaVersion int                                 `json:"schema_version"`
	Network       string                              `json:"network"`
	Reservations  []reservationDoc                    `json:"compilation_reservations"`
	Artifacts     map[string]*models.ContractArtifact `json:"artifacts"`
}

type reservationDoc struct {
	TxHash     string         `json:"tx_hash"`
	Index      uint32         `json:"index"`
	Amount     uint64         `json:"amount"`
	Artifact   string         `json:"artifact,omitempty"`
	Purpose    models.Purpose `json:"purpose"`
	Project    string         `json:"project,omitempty"`
	ReservedAt time.Time      `json:"reserved_at"`
}

// EncodeState serializes a state at the current schema version.
func EncodeState(s *State) ([]byte, error) {
	doc := stateDoc{
		SchemaVersion: CurrentSchemaVersion,
		Network:       s.Network,
		Artifacts:     s.Artifacts,
	}
	for _, r := range s.Reservations {
		doc.Reservations = append(doc.Reservations, reservationDoc{
			TxHash:     r.Key.TxHash,
			Index:      r.Key.Index,
			Amount:     r.Amount,
			Artifact:   r.Artifact,
			Purpose:    r.Purpose,
			Project:    r.Project,
			ReservedAt: r.ReservedAt,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return data, nil
}

// DecodeState parses persisted state, upgrading legacy versions. Artifacts
// that fail structural validation are dropped with a warning so one corrupt
// entry cannot take the whole store down; an unknown schema version is a
// hard error instead.
func DecodeState(data []byte) (*State, error) {
	var probe struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}

	switch probe.SchemaVersion {
	case 0, 1:
		// Version 1 predates the schema_version field.
		migrated, err := migrateV1(data)
		if err != nil {
			return nil, err
		}
		data = migrated
	case CurrentSchemaVersion:
		// Current version, no migration needed
	default:
		return nil, fmt.Errorf("unrecognized state schema version %d (this build reads up to %d)",
			probe.SchemaVersion, CurrentSchemaVersion)
	}

	var doc stateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}

	state := NewState(doc.Network)
	for _, r := range doc.Reservations {
		owner := r.Artifact
		if owner == "" {
			owner = ownerFallback(r.Purpose, r.Project)
		}
		state.Reservations = append(state.Reservations, models.Reservation{
			Key:        models.ReservationKey{TxHash: r.TxHash, Index: r.Index},
			Amount:     r.Amount,
			Artifact:   owner,
			Purpose:    r.Purpose,
			Project:    r.Project,
			ReservedAt: r.ReservedAt,
		})
	}

	for name, artifact := range doc.Artifacts {
		artifact.Name = name
		if err := artifact.Validate(); err != nil {
			slog.Warn("Dropping invalid artifact from persisted state",
				"name", name,
				"error", err,
			)
			continue
		}
		state.Artifacts[name] = artifact
	}

	return state, nil
}

// stateDocV1 is the legacy shape: reservations as "txhash#idx" strings and
// artifacts without an explicit storage_mode field.
type stateDocV1 struct {
	Network      string `json:"network"`
	Reservations []struct {
		UTXO    string         `json:"utxo"`
		Amount  uint64         `json:"amount"`
		Purpose models.Purpose `json:"purpose"`
		Project string         `json:"project,omitempty"`
	} `json:"compilation_reservations"`
	Artifacts map[string]struct {
		PolicyID    string                  `json:"policy_id"`
		Addresses   models.Addresses        `json:"addresses"`
		BytecodeHex string                  `json:"bytecode_hex,omitempty"`
		Reference   *models.ScriptReference `json:"reference,omitempty"`
	} `json:"artifacts"`
}

// migrateV1 upgrades a version-1 document to the current shape, inferring
// each artifact's storage mode from which payload is present.
func migrateV1(data []byte) ([]byte, error) {
	var old stateDocV1
	if err := json.Unmarshal(data, &old); err != nil {
		return nil, fmt.Errorf("failed to parse v1 state: %w", err)
	}

	doc := stateDoc{
		SchemaVersion: CurrentSchemaVersion,
		Network:       old.Network,
		Artifacts:     make(map[string]*models.ContractArtifact, len(old.Artifacts)),
	}

	for _, r := range old.Reservations {
		txHash, index, err := splitUTXORef(r.UTXO)
		if err != nil {
			return nil, fmt.Errorf("failed to migrate v1 reservation %q: %w", r.UTXO, err)
		}
		doc.Reservations = append(doc.Reservations, reservationDoc{
			TxHash:  txHash,
			Index:   index,
			Amount:  r.Amount,
			Purpose: r.Purpose,
			Project: r.Project,
		})
	}

	for name, a := range old.Artifacts {
		mode := models.StorageEmbedded
		if a.Reference != nil {
			mode = models.StorageReference
		}
		doc.Artifacts[name] = &models.ContractArtifact{
			PolicyID:    a.PolicyID,
			Addresses:   a.Addresses,
			StorageMode: mode,
			BytecodeHex: a.BytecodeHex,
			Reference:   a.Reference,
		}
	}

	slog.Info("Migrated persisted state from schema v1",
		"artifacts", len(doc.Artifacts),
		"reservations", len(doc.Reservations),
	)

	return json.Marshal(doc)
}

// ownerFallback derives an owning artifact name for reservations persisted
// before the artifact field existed. The project primary carried the
// reservation in those builds; protocol reservations belonged to the
// protocol unit's primary.
func ownerFallback(purpose models.Purpose, project string) string {
	if project != "" {
		return project
	}
	if purpose == models.PurposeProtocolCompilation {
		return "protocol"
	}
	return ""
}

// splitUTXORef parses the legacy "txhash#index" reference form.
func splitUTXORef(ref string) (string, uint32, error) {
	parts := strings.SplitN(ref, "#", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", 0, fmt.Errorf("malformed utxo reference %q", ref)
	}
	index, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("malformed utxo index in %q: %w", ref, err)
	}
	return parts[0], uint32(index), nil
}
