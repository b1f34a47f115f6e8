// bls-zk-setup runs the one-time Groth16 trusted setup for the range
// circuit backing policy ZK claims, and persists the resulting verifying
// key. The proving key is not written to disk.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bpi-core/bpci-core/pkg/crypto/zkp"
)

func main() {
	outDir := flag.String("out", "./data/zk-setup", "directory to write verifying_key.bin into")
	flag.Parse()

	if err := run(*outDir); err != nil {
		fmt.Fprintf(os.Stderr, "bls-zk-setup: %v\n", err)
		os.Exit(1)
	}
}

func run(outDir string) error {
	if err := os.MkdirAll(outDir, 0700); err != nil {
		return fmt.Errorf("create output directory %s: %w", outDir, err)
	}

	prover := zkp.NewRangeProver()
	if err := prover.Setup(); err != nil {
		return fmt.Errorf("run groth16 trusted setup: %w", err)
	}

	vkPath := filepath.Join(outDir, "verifying_key.bin")
	vkFile, err := os.OpenFile(vkPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open %s: %w", vkPath, err)
	}
	defer vkFile.Close()
	if _, err := prover.VerifyingKey().WriteTo(vkFile); err != nil {
		return fmt.Errorf("write verifying key to %s: %w", vkPath, err)
	}

	fmt.Printf("range circuit verifying key written to %s\n", vkPath)
	fmt.Println("proving key stays in-process; rerun this ceremony wherever a prover needs one")
	return nil
}
