// Command inspectstate prints the contents of a persisted state file in a
// human-readable form. Operator tooling, not part of the daemon.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"custodian/internal/storage"
)

func main() {
	path := flag.String("file", "state/testnet.state.json", "Path to a state file")
	flag.Parse()

	data, err := os.ReadFile(*path)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", *path, err)
	}

	state, err := storage.DecodeState(data)
	if err != nil {
		log.Fatalf("Failed to decode state: %v", err)
	}

	fmt.Printf("Network: %s\n", state.Network)
	fmt.Printf("Artifacts: %d\n", len(state.Artifacts))
	for _, a := range state.Artifacts {
		fmt.Printf("  %-24s policy=%s mode=%s\n", a.Name, a.PolicyID, a.StorageMode)
		if a.Reference != nil {
			fmt.Printf("  %-24s ref=%s#%d at %s\n", "", a.Reference.TxHash, a.Reference.Index, a.Reference.HolderAddress)
		}
	}

	fmt.Printf("Reservations: %d\n", len(state.Reservations))
	for _, r := range state.Reservations {
		fmt.Printf("  %s amount=%d artifact=%s purpose=%s reserved_at=%s\n",
			r.Key.String(), r.Amount, r.Artifact, r.Purpose, r.ReservedAt.Format("2006-01-02 15:04:05"))
	}
}
