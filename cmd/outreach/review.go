package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/outreach/internal/models"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Manual review queue commands",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review items",
	RunE:  runReviewList,
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a review item with its drafted reply",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewShow,
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Send the drafted reply and resolve the item",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewApprove,
}

var reviewDiscardCmd = &cobra.Command{
	Use:   "discard <id>",
	Short: "Discard the drafted reply",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewDiscard,
}

var (
	reviewStatus string
	reviewLimit  int
)

func init() {
	reviewListCmd.Flags().StringVar(&reviewStatus, "status", string(models.ReviewPending), "filter by status (pending, approved, discarded, all)")
	reviewListCmd.Flags().IntVar(&reviewLimit, "limit", 50, "maximum number of items")

	reviewCmd.AddCommand(reviewListCmd, reviewShowCmd, reviewApproveCmd, reviewDiscardCmd)
	rootCmd.AddCommand(reviewCmd)
}

func runReviewList(cmd *cobra.Command, args []string) error {
	status := models.ReviewStatus(reviewStatus)
	if reviewStatus == "all" {
		status = ""
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.Reviews().List(context.Background(), status, reviewLimit)
	if err != nil {
		return fmt.Errorf("failed to list reviews: %w", err)
	}

	if len(items) == 0 {
		fmt.Println("No review items found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTO\tSTATUS\tSCORE\tCREATED\tSUBJECT")
	fmt.Fprintln(w, "--\t--\t------\t-----\t-------\t-------")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\t%s\n",
			item.ID, item.To, item.Status, item.OverallScore,
			item.CreatedAt.Format("2006-01-02 15:04"), item.Subject)
	}
	w.Flush()

	return nil
}

func runReviewShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	item, err := a.Reviews().Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get review: %w", err)
	}

	fmt.Printf("ID:       %s\n", item.ID)
	fmt.Printf("Status:   %s\n", item.Status)
	fmt.Printf("Prospect: %s\n", item.ProspectID)
	fmt.Printf("Provider: %s\n", item.ProviderID)
	fmt.Printf("To:       %s\n", item.To)
	fmt.Printf("Subject:  %s\n", item.Subject)
	fmt.Printf("Score:    %.2f\n", item.OverallScore)
	if len(item.Notes) > 0 {
		fmt.Printf("Notes:    %s\n", strings.Join(item.Notes, "; "))
	}
	fmt.Printf("\n%s\n", item.Content)
	return nil
}

func runReviewApprove(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	item, err := a.Engine().ApproveReview(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to approve review: %w", err)
	}

	fmt.Printf("Review %s approved, reply sent to %s\n", item.ID, item.To)
	return nil
}

func runReviewDiscard(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	item, err := a.Engine().DiscardReview(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to discard review: %w", err)
	}

	fmt.Printf("Review %s discarded\n", item.ID)
	return nil
}
