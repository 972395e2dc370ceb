package chain

import "custodian/internal/models"

// UTXO is an unspent output as returned by the chain query collaborator.
// Assets maps "policyID+assetNameHex" units to quantities; Amount is the
// plain coin value in the smallest denomination.
type UTXO struct {
	TxHash  string            `json:"tx_hash"`
	Index   uint32            `json:"index"`
	Address string            `json:"address"`
	Amount  uint64            `json:"amount"`
	Assets  map[string]uint64 `json:"assets,omitempty"`
}

// Key returns the reservation key identifying this output.
func (u UTXO) Key() models.ReservationKey {
	return models.ReservationKey{TxHash: u.TxHash, Index: u.Index}
}

// HasAssets reports whether the output carries any native tokens besides coin.
func (u UTXO) HasAssets() bool {
	return len(u.Assets) > 0
}

// TxOutput describes one output of a transaction to be assembled. A non-nil
// ScriptHex attaches the bytecode as a reference script on the output.
type TxOutput struct {
	Address   string
	Amount    uint64
	Assets    map[string]uint64
	ScriptHex string
}

// MintSpec describes tokens to mint (positive) or burn (negative) under one
// policy within an assembled transaction.
type MintSpec struct {
	PolicyID  string
	AssetName string
	Quantity  int64
}

// CompiledContract is the output of the compiler collaborator. The policy
// identifier and addresses are derived from the bytecode and are the same
// for every compilation with identical parameters.
type CompiledContract struct {
	BytecodeHex string
	PolicyID    string
	Addresses   models.Addresses
}
