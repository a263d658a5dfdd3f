package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"attestor/internal/provenance"
)

var certifyFlags struct {
	reviewer        string
	scrutiny        string
	notes           string
	includeExisting bool
}

var certifyCmd = &cobra.Command{
	Use:   "certify <artifact>",
	Short: "Record a human review on an annotated artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  runCertify,
}

func init() {
	f := certifyCmd.Flags()
	f.StringVar(&certifyFlags.reviewer, "reviewer", "", "Reviewer identity (required)")
	f.StringVar(&certifyFlags.scrutiny, "scrutiny", "medium", "Scrutiny level (auto, low, medium, high)")
	f.StringVar(&certifyFlags.notes, "notes", "", "Review notes")
	f.BoolVar(&certifyFlags.includeExisting, "include-existing", false, "Re-certify an already certified artifact")

	_ = certifyCmd.MarkFlagRequired("reviewer")
}

func runCertify(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	res, err := e.scanTree(cmd.Context())
	if err != nil {
		return err
	}
	a, err := findArtifact(res, args[0])
	if err != nil {
		return err
	}

	m, err := e.engine.Certify(a, certifyFlags.reviewer,
		provenance.ScrutinyLevel(certifyFlags.scrutiny), certifyFlags.notes, certifyFlags.includeExisting)
	if err != nil {
		return err
	}
	e.record("certify", certifyFlags.reviewer, a.ID(), string(m.Scrutiny))
	fmt.Fprintf(cmd.OutOrStdout(), "certified %s by %s (%s)\n", a.ID(), m.HumanCertified, m.Scrutiny)
	return nil
}
