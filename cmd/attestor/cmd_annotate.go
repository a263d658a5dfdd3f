package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var annotateFlags struct {
	all   bool
	agent string
	notes string
}

var annotateCmd = &cobra.Command{
	Use:   "annotate [artifact]",
	Short: "Insert the initial provenance annotation above a declaration",
	Long: "Creates the pending provenance record for an unannotated artifact and\n" +
		"writes it into the source file. With --all, every pristine artifact in\n" +
		"the tree is annotated in one pass.",
	Args: cobra.MaximumNArgs(1),
	RunE: runAnnotate,
}

func init() {
	f := annotateCmd.Flags()
	f.BoolVar(&annotateFlags.all, "all", false, "Annotate every pristine artifact")
	f.StringVar(&annotateFlags.agent, "agent", "", "Record this agent as the composer (default: pending)")
	f.StringVar(&annotateFlags.notes, "notes", "", "Free-form notes")
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	if annotateFlags.all == (len(args) == 1) {
		return fmt.Errorf("provide exactly one artifact or --all")
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
	out := cmd.OutOrStdout()

	if annotateFlags.all {
		created, err := e.engine.AnnotateAll(res.Artifacts, annotateFlags.agent, annotateFlags.notes)
		for id := range created {
			e.record("annotate", annotateFlags.agent, id, "")
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "annotated %d artifact(s)\n", len(created))
		return nil
	}

	a, err := findArtifact(res, args[0])
	if err != nil {
		return err
	}
	m, err := e.engine.Annotate(a, annotateFlags.agent, annotateFlags.notes)
	if err != nil {
		return err
	}
	e.record("annotate", annotateFlags.agent, a.ID(), "")
	fmt.Fprintf(out, "annotated %s (ai_composed=%s)\n", a.ID(), m.AIComposed)
	return nil
}
