package models

import (
	"fmt"
	"time"
)

// Purpose records why a ledger input was reserved.
type Purpose string

const (
	// PurposeProtocolCompilation marks an input consumed by compiling the
	// protocol contract unit.
	PurposeProtocolCompilation Purpose = "protocol_compilation"
	// PurposeProjectCompilation marks an input consumed by compiling a
	// project contract unit; the project name is carried alongside.
	PurposeProjectCompilation Purpose = "project_compilation"
	// PurposeReferenceMigration marks a funding input held while a
	// reference-script publication is in flight. These claims never
	// outlive the process that made them.
	PurposeReferenceMigration Purpose = "reference_migration"
)

// ReservationKey identifies a ledger input. Two reservations never share a key.
type ReservationKey struct {
	TxHash string `json:"tx_hash"`
	Index  uint32 `json:"index"`
}

// String renders the key in tx_hash#index form.
func (k ReservationKey) String() string {
	return fmt.Sprintf("%s#%d", k.TxHash, k.Index)
}

// Reservation is a claim on a ledger input held while the artifact
// parameterized by that input is alive. Artifact names the exact owner:
// releases are keyed by it, never by the coarser purpose/project pair,
// so sibling artifacts in one unit keep their claims independent.
type Reservation struct {
	Key        ReservationKey `json:"key"`
	Amount     uint64         `json:"amount"`
	Artifact   string         `json:"artifact"`
	Purpose    Purpose        `json:"purpose"`
	Project    string         `json:"project,omitempty"`
	ReservedAt time.Time      `json:"reserved_at"`
}
