package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"attestor/internal/provenance"
)

var certifyAgentFlags struct {
	agent    string
	scrutiny string
	notes    string
}

var certifyAgentCmd = &cobra.Command{
	Use:   "certify-agent <artifact>",
	Short: "Record an automated review by an allow-listed agent",
	Long: "Records an agent reviewer entry on an annotated artifact. The agent id\n" +
		"must appear in the policy's agent allow-list and the scrutiny level must\n" +
		"be within the agent's bound; an unpermitted request mutates nothing.",
	Args: cobra.ExactArgs(1),
	RunE: runCertifyAgent,
}

func init() {
	f := certifyAgentCmd.Flags()
	f.StringVar(&certifyAgentFlags.agent, "agent", "", "Agent identity (required)")
	f.StringVar(&certifyAgentFlags.scrutiny, "scrutiny", "", "Scrutiny level; empty requests the agent's maximum")
	f.StringVar(&certifyAgentFlags.notes, "notes", "", "Review notes")

	_ = certifyAgentCmd.MarkFlagRequired("agent")
}

func runCertifyAgent(cmd *cobra.Command, args []string) error {
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

	m, err := e.engine.CertifyAgent(a, certifyAgentFlags.agent,
		provenance.ScrutinyLevel(certifyAgentFlags.scrutiny), certifyAgentFlags.notes)
	if err != nil {
		return err
	}
	e.record("certify_agent", certifyAgentFlags.agent, a.ID(), string(m.Scrutiny))
	fmt.Fprintf(cmd.OutOrStdout(), "agent %s certified %s (%s)\n", certifyAgentFlags.agent, a.ID(), m.Scrutiny)
	return nil
}
