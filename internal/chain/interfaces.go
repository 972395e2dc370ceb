package chain

import "context"

// Query reads live chain state. Implemented by the wallet layer's node
// client; this core only consumes it.
type Query interface {
	// UTXOsAt returns the unspent outputs at an address, in the stable
	// order produced by the node. Candidate scans rely on that order.
	UTXOsAt(ctx context.Context, address string) ([]UTXO, error)
}

// Compiler turns contract source plus parameters into bytecode and its
// derived identifiers. It never partially succeeds: any failure is a
// *CompilationError and no artifact state exists afterwards.
type Compiler interface {
	Compile(ctx context.Context, sourcePath string, params map[string]string) (*CompiledContract, error)
}

// Assembler builds, signs, and submits one transaction. A returned tx id
// means the transaction was accepted by the node; any validation, fee, or
// balance failure is returned as an error and nothing was submitted.
type Assembler interface {
	BuildAndSubmit(ctx context.Context, inputs []UTXO, outputs []TxOutput, mint []MintSpec) (string, error)
}
