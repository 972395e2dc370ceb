package models

import "fmt"

// StorageMode tells where the compiled bytecode of an artifact lives.
type StorageMode string

const (
	// StorageEmbedded keeps the full bytecode inside the artifact record.
	StorageEmbedded StorageMode = "embedded"
	// StorageReference points at an on-chain output holding the bytecode.
	StorageReference StorageMode = "reference"
)

// Addresses holds the script addresses derived from the compiled bytecode,
// one per deployment network.
type Addresses struct {
	Testnet string `json:"testnet"`
	Mainnet string `json:"mainnet"`
}

// ScriptReference locates the on-chain output that carries an artifact's
// bytecode when its storage mode is reference.
type ScriptReference struct {
	TxHash        string `json:"tx_hash"`
	Index         uint32 `json:"index"`
	HolderAddress string `json:"holder_address"`
}

// ContractArtifact is one compiled contract. PolicyID and Addresses are
// derived from the bytecode and never change after creation; replacing them
// means creating a new artifact.
type ContractArtifact struct {
	Name        string           `json:"-"`
	PolicyID    string           `json:"policy_id"`
	Addresses   Addresses        `json:"addresses"`
	StorageMode StorageMode      `json:"storage_mode"`
	BytecodeHex string           `json:"bytecode_hex,omitempty"`
	Reference   *ScriptReference `json:"reference,omitempty"`
}

// Validate checks that exactly one storage payload matches the declared mode.
func (a *ContractArtifact) Validate() error {
	if a.PolicyID == "" {
		return fmt.Errorf("artifact %q has empty policy_id", a.Name)
	}
	switch a.StorageMode {
	case StorageEmbedded:
		if a.BytecodeHex == "" {
			return fmt.Errorf("artifact %q is embedded but carries no bytecode", a.Name)
		}
		if a.Reference != nil {
			return fmt.Errorf("artifact %q is embedded but carries a reference pointer", a.Name)
		}
	case StorageReference:
		if a.Reference == nil {
			return fmt.Errorf("artifact %q is reference but carries no pointer", a.Name)
		}
		if a.BytecodeHex != "" {
			return fmt.Errorf("artifact %q is reference but still embeds bytecode", a.Name)
		}
	default:
		return fmt.Errorf("artifact %q has unknown storage mode %q", a.Name, a.StorageMode)
	}
	return nil
}

// Clone returns a deep copy so callers can hand artifacts out of the store
// without exposing internal state to mutation.
func (a *ContractArtifact) Clone() *ContractArtifact {
	cp := *a
	if a.Reference != nil {
		ref := *a.Reference
		cp.Reference = &ref
	}
	return &cp
}
