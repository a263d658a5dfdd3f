package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"attestor/internal/lifecycle"
	"attestor/internal/policy"
)

var enforceFlags struct {
	jsonOut bool
}

var enforceCmd = &cobra.Command{
	Use:   "enforce",
	Short: "Evaluate certification coverage and policy rules (CI gate)",
	Long: "Scans the tree and evaluates it against the enforcement policy:\n" +
		"minimum coverage ratio, high scrutiny for AI-composed artifacts, agent\n" +
		"coverage credit. Exits non-zero when any violation is found, making it\n" +
		"suitable as a CI gate.",
	RunE: runEnforce,
}

func init() {
	enforceCmd.Flags().BoolVar(&enforceFlags.jsonOut, "json", false, "Emit machine-readable JSON")
}

func runEnforce(cmd *cobra.Command, _ []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	res, err := e.scanTree(cmd.Context())
	if err != nil {
		return err
	}
	// Finalized artifacts carry only the done projection inline; pull their
	// full records from the registry so enforcement sees them.
	reg, err := e.store.Load()
	if err != nil {
		return err
	}
	rep := policy.Evaluate(lifecycle.EvaluationRecords(res.Artifacts, reg), e.cfg)
	out := cmd.OutOrStdout()

	if enforceFlags.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "artifacts: %d total, %d eligible\n", rep.Total, rep.Eligible)
		fmt.Fprintf(out, "certified: %d (%.0f%% coverage", rep.Certified, rep.CoverageRatio*100)
		if rep.AgentCredited > 0 {
			fmt.Fprintf(out, ", %d agent-credited", rep.AgentCredited)
		}
		fmt.Fprintln(out, ")")
		for _, id := range rep.Pending {
			fmt.Fprintf(out, "pending: %s\n", id)
		}
		for _, v := range rep.Violations {
			if v.Path != "" {
				fmt.Fprintf(out, "violation [%s] %s::%s: %s\n", v.Kind, v.Path, v.Name, v.Detail)
			} else {
				fmt.Fprintf(out, "violation [%s]: %s\n", v.Kind, v.Detail)
			}
		}
	}

	if !rep.Pass() {
		return fmt.Errorf("policy: %d violation(s)", len(rep.Violations))
	}
	return nil
}
