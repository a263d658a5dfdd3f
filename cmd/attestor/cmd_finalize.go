package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"attestor/internal/scan"
)

var finalizeFlags struct {
	all bool
}

var finalizeCmd = &cobra.Command{
	Use:   "finalize [artifact...]",
	Short: "Move certified artifacts to the registry and collapse their annotations",
	Long: "Commits the full metadata snapshot of each certified artifact to the\n" +
		"registry, then collapses the inline annotation to the minimal done\n" +
		"marker. With --all, every artifact that passes the finalize\n" +
		"preconditions is finalized in one batch; the batch is all-or-nothing.",
	RunE: runFinalize,
}

func init() {
	finalizeCmd.Flags().BoolVar(&finalizeFlags.all, "all", false, "Finalize every eligible artifact")
}

func runFinalize(cmd *cobra.Command, args []string) error {
	if finalizeFlags.all == (len(args) > 0) {
		return fmt.Errorf("provide at least one artifact or --all")
	}

	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	res, err := e.scanTree(cmd.Context())
	if err != nil {
		return err
	}

	var targets []*scan.Artifact
	if finalizeFlags.all {
		for _, a := range res.Artifacts {
			if e.engine.CanFinalize(a) == nil {
				targets = append(targets, a)
			}
		}
		if len(targets) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing eligible to finalize")
			return nil
		}
	} else {
		for _, arg := range args {
			a, err := findArtifact(res, arg)
			if err != nil {
				return err
			}
			targets = append(targets, a)
		}
	}

	entries, err := e.engine.FinalizeAll(cmd.Context(), targets)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, entry := range entries {
		e.record("finalize", entry.Meta.HumanCertified, string(entry.Key()), "digest="+entry.Digest[:12])
		fmt.Fprintf(out, "finalized %s (digest %s)\n", entry.Key(), entry.Digest[:12])
	}
	return nil
}
