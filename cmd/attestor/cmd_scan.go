package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"attestor/internal/lifecycle"
)

var scanFlags struct {
	stage    string
	jsonOut  bool
	failures bool
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List functions, methods and types with their lifecycle stage",
	RunE:  runScan,
}

func init() {
	f := scanCmd.Flags()
	f.StringVar(&scanFlags.stage, "stage", "", "Only show artifacts in this stage (pristine, annotated, under_review, finalized, corrupt)")
	f.BoolVar(&scanFlags.jsonOut, "json", false, "Emit machine-readable JSON")
	f.BoolVar(&scanFlags.failures, "failures", false, "Only show parse and annotation failures")
}

type scanRow struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Stage    string `json:"stage"`
	Scrutiny string `json:"scrutiny,omitempty"`
	Digest   string `json:"digest"`
}

func runScan(cmd *cobra.Command, _ []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	res, err := e.scanTree(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if scanFlags.failures {
		for _, fe := range res.Errors {
			fmt.Fprintln(out, fe.Error())
		}
		if len(res.Errors) > 0 {
			return fmt.Errorf("%d file(s) failed to scan cleanly", len(res.Errors))
		}
		fmt.Fprintln(out, "no scan failures")
		return nil
	}

	var rows []scanRow
	for _, a := range res.Artifacts {
		stage := lifecycle.Stage(a)
		if scanFlags.stage != "" && stage != scanFlags.stage {
			continue
		}
		row := scanRow{ID: a.ID(), Kind: a.Kind, Stage: stage, Digest: a.Digest[:12]}
		if a.Annotated() {
			row.Scrutiny = string(a.Meta.Scrutiny)
		}
		rows = append(rows, row)
	}

	if scanFlags.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	for _, r := range rows {
		if r.Scrutiny != "" {
			fmt.Fprintf(out, "%-12s %-14s %s (scrutiny=%s)\n", r.Stage, r.Kind, r.ID, r.Scrutiny)
		} else {
			fmt.Fprintf(out, "%-12s %-14s %s\n", r.Stage, r.Kind, r.ID)
		}
	}
	fmt.Fprintf(out, "%d artifact(s)", len(rows))
	if scanFlags.stage != "" {
		fmt.Fprintf(out, " in stage %s", scanFlags.stage)
	}
	fmt.Fprintln(out)
	for _, fe := range res.Errors {
		fmt.Fprintf(out, "warning: %s\n", fe.Error())
	}
	return nil
}
