package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/outreach/internal/app"
	"github.com/foxzi/outreach/internal/mail"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [file]",
	Short: "Classify a raw RFC 5322 message",
	Long: `Classify a raw message read from a file, or from stdin when the file is
omitted or "-". Prints the reply kind and, for genuine replies, the ranked intents.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var r io.Reader = os.Stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open message: %w", err)
		}
		defer f.Close()
		r = f
	}

	msg, err := mail.ParseMessage(r)
	if err != nil {
		return fmt.Errorf("failed to parse message: %w", err)
	}

	replies, intents := app.Classifiers(cfg)
	ctx := context.Background()

	result := replies.Classify(ctx, msg)
	fmt.Printf("From:       %s\n", msg.From)
	fmt.Printf("Subject:    %s\n", msg.Subject)
	fmt.Printf("Kind:       %s\n", result.Kind)
	fmt.Printf("Confidence: %.2f\n", result.Confidence)
	fmt.Printf("Source:     %s\n", result.Source)
	if result.Reason != "" {
		fmt.Printf("Reason:     %s\n", result.Reason)
	}

	if !result.IsGenuine() {
		return nil
	}

	ranked := intents.Classify(ctx, msg.Subject, msg.Body, cfg.Intents)
	fmt.Println()
	if ranked.Fallback {
		fmt.Println("Intents (keyword scoring):")
	} else {
		fmt.Println("Intents:")
	}
	if len(ranked.Matches) == 0 {
		fmt.Println("  none")
	}
	for i, m := range ranked.Matches {
		fmt.Printf("  %d. %s (%.2f, auto_respond=%v)\n", i+1, m.Intent.Name, m.Confidence, m.Intent.AutoRespond)
		if m.Reasoning != "" {
			fmt.Printf("     %s\n", m.Reasoning)
		}
	}
	return nil
}
