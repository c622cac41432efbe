package main

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/foxzi/outreach/internal/catalog"
	"github.com/foxzi/outreach/internal/metrics"
	"github.com/foxzi/outreach/internal/models"
	"github.com/foxzi/outreach/internal/storage"
)

var prospectCmd = &cobra.Command{
	Use:   "prospect",
	Short: "Prospect management commands",
}

var prospectImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Enroll prospects from a YAML file",
	Long: `Enroll prospects listed in a YAML file. Each entry may carry the initial
campaign email so follow-ups thread onto it. Already enrolled emails are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runProspectImport,
}

var prospectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prospects",
	RunE:  runProspectList,
}

var prospectStopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Stop follow-ups for a prospect",
	Args:  cobra.ExactArgs(1),
	RunE:  runProspectStop,
}

var (
	importProvider string
	listStatus     string
	listCampaign   string
	listLimit      int
	stopReason     string
)

func init() {
	prospectImportCmd.Flags().StringVar(&importProvider, "provider", "", "provider id for entries without one")
	prospectListCmd.Flags().StringVar(&listStatus, "status", "", "filter by follow-up status (active, stopped, completed)")
	prospectListCmd.Flags().StringVar(&listCampaign, "campaign", "", "filter by campaign id")
	prospectListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of prospects")
	prospectStopCmd.Flags().StringVar(&stopReason, "reason", "stopped via cli", "stop reason")

	prospectCmd.AddCommand(prospectImportCmd, prospectListCmd, prospectStopCmd)
	rootCmd.AddCommand(prospectCmd)
}

// importFile is the on-disk format of prospect import
type importFile struct {
	Prospects []importEntry `yaml:"prospects"`
}

type importEntry struct {
	models.Prospect `yaml:",inline"`
	Initial         *importMessage `yaml:"initial,omitempty"`
}

type importMessage struct {
	Subject   string    `yaml:"subject"`
	Content   string    `yaml:"content"`
	MessageID string    `yaml:"message_id"`
	SentAt    time.Time `yaml:"sent_at"`
}

// parseImportFile decodes and validates entries against the catalog
func parseImportFile(data []byte, cat *catalog.Catalog, defaultProvider string) ([]importEntry, error) {
	var f importFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse import file: %w", err)
	}
	if len(f.Prospects) == 0 {
		return nil, fmt.Errorf("import file contains no prospects")
	}

	var errs []string
	for i := range f.Prospects {
		e := &f.Prospects[i]
		if e.ProviderID == "" {
			e.ProviderID = defaultProvider
		}

		addr, err := mail.ParseAddress(e.Email)
		if err != nil {
			errs = append(errs, fmt.Sprintf("prospects[%d]: invalid email %q", i, e.Email))
			continue
		}
		e.Email = addr.Address

		if e.CampaignID == "" {
			errs = append(errs, fmt.Sprintf("prospects[%d]: campaign_id is required", i))
		} else if _, err := cat.Campaign(e.CampaignID); err != nil {
			errs = append(errs, fmt.Sprintf("prospects[%d]: unknown campaign %s", i, e.CampaignID))
		}
		if e.ProviderID == "" {
			errs = append(errs, fmt.Sprintf("prospects[%d]: provider_id is required", i))
		}
	}
	if len(errs) > 0 {
		return nil, errors.New(strings.Join(errs, "; "))
	}
	return f.Prospects, nil
}

func (e *importEntry) initialMessage() *models.Message {
	if e.Initial == nil {
		return nil
	}
	return &models.Message{
		Subject:       e.Initial.Subject,
		Content:       e.Initial.Content,
		ProviderMsgID: e.Initial.MessageID,
		Timestamp:     e.Initial.SentAt,
	}
}

func runProspectImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read import file: %w", err)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := parseImportFile(data, a.Catalog(), importProvider)
	if err != nil {
		return err
	}

	ctx := context.Background()
	var enrolled, skipped int
	for i := range entries {
		e := &entries[i]
		p := e.Prospect
		err := a.Store().EnrollProspect(ctx, &p, e.initialMessage())
		switch {
		case err == nil:
			enrolled++
		case errors.Is(err, storage.ErrExists):
			skipped++
			fmt.Printf("  skipped %s: already enrolled\n", p.Email)
		default:
			return fmt.Errorf("failed to enroll %s: %w", p.Email, err)
		}
	}

	fmt.Printf("Enrolled: %d\n", enrolled)
	fmt.Printf("Skipped:  %d\n", skipped)
	return nil
}

func runProspectList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	prospects, err := a.Store().ListProspects(context.Background(), storage.ProspectFilter{
		Status:     models.FollowUpStatus(listStatus),
		CampaignID: listCampaign,
		Limit:      listLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list prospects: %w", err)
	}

	if len(prospects) == 0 {
		fmt.Println("No prospects found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tCAMPAIGN\tSTATUS\tFOLLOW-UPS\tLAST TOUCH")
	fmt.Fprintln(w, "--\t-----\t--------\t------\t----------\t----------")
	for _, p := range prospects {
		last := "-"
		if t := p.LastTouch(); t != nil {
			last = t.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", p.ID, p.Email, p.CampaignID, p.FollowUpStatus, p.FollowUpCount, last)
	}
	w.Flush()

	return nil
}

func runProspectStop(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.Store().UpdateProspect(context.Background(), args[0], func(p *models.Prospect) error {
		if p.FollowUpStatus != models.FollowUpActive {
			return storage.ErrNotActive
		}
		p.FollowUpStatus = models.FollowUpStopped
		p.StopReason = stopReason
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to stop prospect: %w", err)
	}

	metrics.IncFollowUpsStopped(string(models.FollowUpStopped))
	fmt.Printf("Follow-ups stopped for %s (%s)\n", p.Email, p.ID)
	return nil
}
