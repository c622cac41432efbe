package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Rate limit commands",
}

var ratelimitShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show configured limits and current usage",
	RunE:  runRatelimitShow,
}

func init() {
	ratelimitCmd.AddCommand(ratelimitShowCmd)
	rootCmd.AddCommand(ratelimitCmd)
}

func runRatelimitShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	stats := a.Limiter().Stats(context.Background(), a.Providers())
	if len(stats) == 0 {
		fmt.Println("No providers configured")
		return nil
	}

	fmt.Println("Provider Send Quotas")
	fmt.Println("====================")

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tKEY\tHOUR\tDAY\tLAST RESET")
	fmt.Fprintln(w, "-----\t---\t----\t---\t----------")
	for _, s := range stats {
		reset := "-"
		if !s.LastReset.IsZero() {
			reset = s.LastReset.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Level, s.Key,
			usage(s.HourlyCount, s.HourlyLimit), usage(s.DailyCount, s.DailyLimit), reset)
	}
	w.Flush()

	return nil
}

// usage formats a counter against its limit; zero limits are unlimited
func usage(count, limit int) string {
	if limit <= 0 {
		return fmt.Sprintf("%d/-", count)
	}
	return fmt.Sprintf("%d/%d", count, limit)
}
