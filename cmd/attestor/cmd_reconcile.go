package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"attestor/internal/reconcile"
)

var reconcileFlags struct {
	jsonOut bool
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Detect drift between the registry and the tree, reopening changed artifacts",
	Long: "Compares every registry entry against the scanned tree. A finalized\n" +
		"artifact whose body digest changed is reopened: its full metadata is\n" +
		"restored inline and the registry entry archived. Interrupted finalize\n" +
		"and reopen transitions are completed. Orphaned entries and conflicts\n" +
		"are reported but never repaired automatically.",
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileFlags.jsonOut, "json", false, "Emit machine-readable JSON")
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	rec := reconcile.New(e.root, e.store, e.engine)
	findings, err := rec.Reconcile(cmd.Context())
	if err != nil {
		return err
	}
	e.record("reconcile", "", "", fmt.Sprintf("%d findings", len(findings)))

	out := cmd.OutOrStdout()
	if reconcileFlags.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(findings)
	}

	if len(findings) == 0 {
		fmt.Fprintln(out, "registry and tree are consistent")
		return nil
	}
	for _, f := range findings {
		fmt.Fprintf(out, "%-18s %s::%s  %s\n", f.Kind, f.Path, f.Name, f.Detail)
	}
	return nil
}
