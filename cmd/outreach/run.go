package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single loop iteration",
}

var runInboundCmd = &cobra.Command{
	Use:   "inbound",
	Short: "Poll every inbound mailbox once",
	RunE:  runInbound,
}

var runFollowUpCmd = &cobra.Command{
	Use:   "followup",
	Short: "Scan active prospects once and send due follow-ups",
	RunE:  runFollowUp,
}

func init() {
	runCmd.AddCommand(runInboundCmd, runFollowUpCmd)
	rootCmd.AddCommand(runCmd)
}

func runInbound(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Inbound().RunOnce(context.Background())
	if err != nil {
		return fmt.Errorf("inbound run failed: %w", err)
	}

	fmt.Printf("Fetched: %d\n", report.Fetched)
	printCounts(report.Outcomes)
	return nil
}

func runFollowUp(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.FollowUps().RunOnce(context.Background())
	if err != nil {
		return fmt.Errorf("follow-up run failed: %w", err)
	}

	fmt.Printf("Scanned: %d\n", report.Scanned)
	printCounts(report.Outcomes)
	return nil
}
