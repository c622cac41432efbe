package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/foxzi/outreach/internal/dkim"
)

var (
	initEmail    string
	initName     string
	initSMTPHost string
	initIMAPHost string
	initOutput   string
	initEnvFile  string
	initDataDir  string
	initDKIM     bool
	initLLM      bool
	initForce    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize outreach configuration",
	Long: `Interactive wizard to create an outreach configuration file.

This command helps you set up outreach by:
  1. Creating a configuration file with one SMTP/IMAP mailbox
  2. Writing credentials to a .env file referenced by the config
  3. Optionally generating DKIM keys and showing DNS records

Examples:
  # Interactive mode - prompts for missing values
  outreach init

  # Non-interactive with all flags
  outreach init --email alex@example.com --name "Alex" --dkim --llm`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initEmail, "email", "", "Mailbox address campaigns are sent from")
	initCmd.Flags().StringVar(&initName, "name", "", "Sender display name")
	initCmd.Flags().StringVar(&initSMTPHost, "smtp-host", "", "SMTP host (default: smtp.<domain>)")
	initCmd.Flags().StringVar(&initIMAPHost, "imap-host", "", "IMAP host (default: imap.<domain>)")
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().StringVar(&initEnvFile, "env-file", "", "Credentials file (default: .env next to the config)")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/outreach", "Data directory for the database and keys")
	initCmd.Flags().BoolVar(&initDKIM, "dkim", false, "Generate DKIM keys")
	initCmd.Flags().BoolVar(&initLLM, "llm", false, "Enable LLM classification and replies")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Outreach Configuration Wizard")
	fmt.Println("=============================")
	fmt.Println()

	if initEmail == "" {
		initEmail = prompt(reader, "Mailbox address (e.g., alex@example.com)", "")
		if initEmail == "" {
			return fmt.Errorf("email is required")
		}
	}
	domain := emailDomain(initEmail)
	if domain == "" {
		return fmt.Errorf("invalid email %q", initEmail)
	}

	if initName == "" {
		initName = prompt(reader, "Sender name", "")
	}
	if initSMTPHost == "" {
		initSMTPHost = prompt(reader, "SMTP host", "smtp."+domain)
	}
	if initIMAPHost == "" {
		initIMAPHost = prompt(reader, "IMAP host", "imap."+domain)
	}
	initDataDir = prompt(reader, "Data directory", initDataDir)

	if initEnvFile == "" {
		initEnvFile = filepath.Join(filepath.Dir(initOutput), ".env")
	}

	if !initForce {
		for _, path := range []string{initOutput, initEnvFile} {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}
	}

	fmt.Println()
	fmt.Println("Creating configuration...")

	if err := os.MkdirAll(initDataDir, 0755); err != nil {
		fmt.Printf("  Warning: Could not create data directory: %v\n", err)
	}

	var dkimKeyPath, dkimName, dkimValue string
	if initDKIM {
		kp, err := dkim.GenerateKeyPair(domain, "outreach", 0)
		if err != nil {
			return fmt.Errorf("failed to generate DKIM key: %w", err)
		}
		dkimKeyPath = filepath.Join(initDataDir, "dkim", domain+".pem")
		if err := kp.WriteKey(dkimKeyPath); err != nil {
			return fmt.Errorf("failed to save DKIM key: %w", err)
		}
		dkimName = kp.RecordName()
		if dkimValue, err = kp.RecordValue(); err != nil {
			return err
		}
		fmt.Printf("  DKIM key saved to: %s\n", dkimKeyPath)
	}

	if err := os.WriteFile(initOutput, []byte(generateConfig(dkimKeyPath)), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Printf("  Configuration saved to: %s\n", initOutput)

	apiKey := generateRandomString(32)
	if err := writeEnvFile(initEnvFile, apiKey); err != nil {
		return err
	}
	fmt.Printf("  Credentials saved to: %s\n", initEnvFile)
	fmt.Println()

	printDNSRecords(domain, dkimName, dkimValue)
	printNextSteps(apiKey)

	return nil
}

func prompt(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// writeEnvFile stores credentials referenced from the generated config.
// The mailbox password is left for the operator to fill in.
func writeEnvFile(path, apiKey string) error {
	env := map[string]string{
		"OUTREACH_MAIL_USER":     initEmail,
		"OUTREACH_MAIL_PASSWORD": "change-me",
		"OUTREACH_API_KEY":       apiKey,
	}
	if initLLM {
		env["OPENAI_API_KEY"] = "change-me"
	}
	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("failed to write env file: %w", err)
	}
	return os.Chmod(path, 0600)
}

func generateConfig(dkimKeyPath string) string {
	domain := emailDomain(initEmail)

	dkimSection := fmt.Sprintf(`    # dkim:
    #   enabled: true
    #   domain: "%s"
    #   selector: "outreach"
    #   key_file: "%s/dkim/%s.pem"`, domain, initDataDir, domain)
	if dkimKeyPath != "" {
		dkimSection = fmt.Sprintf(`    dkim:
      enabled: true
      domain: "%s"
      selector: "outreach"
      key_file: "%s"`, domain, dkimKeyPath)
	}

	return fmt.Sprintf(`# Outreach configuration
# Generated by: outreach init
# Credentials are read from the environment; see the .env file next to this one.

logging:
  level: "info"
  format: "json"

storage:
  path: "%s/outreach.db"

llm:
  enabled: %t
  api_key: "${OPENAI_API_KEY}"
  model: "gpt-4o-mini"
  timeout: 30s

providers:
  - id: "primary"
    type: "smtp"
    from: "%s"
    from_name: "%s"
    smtp:
      host: "%s"
      port: 587
      tls: "starttls"
      username: "${OUTREACH_MAIL_USER}"
      password: "${OUTREACH_MAIL_PASSWORD}"
    imap:
      host: "%s"
      port: 993
      username: "${OUTREACH_MAIL_USER}"
      password: "${OUTREACH_MAIL_PASSWORD}"
%s

rate_limit:
  default_provider:
    messages_per_hour: 30
    messages_per_day: 200

orchestrator:
  inbound_interval: 1m
  followup_interval: 5m
  max_auto_replies: 3

templates:
  - id: "followup-1"
    name: "First nudge"
    subject: "Following up"
    body: |
      Hi {{first_name}},

      Just bringing this back to the top of your inbox. Happy to share more if useful.
  - id: "followup-2"
    name: "Last note"
    subject: "Closing the loop"
    body: |
      Hi {{first_name}},

      I will not keep following up. If the timing is better later, just reply here.
  - id: "meeting"
    name: "Meeting request"
    intent: "meeting_request"
    body: |
      Hi {{first_name}},

      Happy to set up a call. What times work for you this week?

intents:
  - name: "meeting_request"
    description: "The prospect wants to schedule a call or demo"
    keywords: ["call", "meeting", "demo", "schedule"]
    auto_respond: true
    templates: ["meeting"]
  - name: "not_interested"
    description: "The prospect declines"
    keywords: ["not interested", "unsubscribe", "remove me"]
    auto_respond: false
  - name: "general"
    description: "Anything else"
    default: true
    auto_respond: false

campaigns:
  - id: "default"
    name: "Default campaign"
    follow_up:
      enabled: true
      schedule_type: "interval"
      intervals: [3, 7]
      timezone: "UTC"
      time_window_start: "09:00"
      time_window_end: "17:00"
      exclude_weekends: true
      max_follow_ups: 2
      template_sequence: ["followup-1", "followup-2"]

api:
  enabled: true
  listen_addr: ":8080"
  api_key: "${OUTREACH_API_KEY}"

metrics:
  enabled: false
  listen_addr: ":9090"
`,
		initDataDir,
		initLLM,
		initEmail,
		initName,
		initSMTPHost,
		initIMAPHost,
		dkimSection,
	)
}

func printDNSRecords(domain, dkimName, dkimValue string) {
	fmt.Println("DNS Records to Check")
	fmt.Println("====================")
	fmt.Println()

	fmt.Println("1. SPF Record (authorize your mail host):")
	fmt.Printf("   Name:  %s\n", domain)
	fmt.Printf("   Type:  TXT\n")
	fmt.Printf("   Value: v=spf1 a:%s ~all\n", initSMTPHost)
	fmt.Println()

	if dkimName != "" {
		fmt.Println("2. DKIM Record (email signing):")
		fmt.Printf("   Name:  %s\n", dkimName)
		fmt.Printf("   Type:  TXT\n")
		fmt.Printf("   Value: %s\n", dkimValue)
		fmt.Println()
	}

	fmt.Println("3. DMARC Record (email policy):")
	fmt.Printf("   Name:  _dmarc.%s\n", domain)
	fmt.Printf("   Type:  TXT\n")
	fmt.Printf("   Value: v=DMARC1; p=quarantine; rua=mailto:dmarc@%s\n", domain)
	fmt.Println()
}

func printNextSteps(apiKey string) {
	fmt.Println("Next Steps")
	fmt.Println("==========")
	fmt.Println()
	fmt.Printf("1. Set the mailbox password in %s\n", initEnvFile)
	fmt.Println()
	fmt.Println("2. Validate the configuration:")
	fmt.Printf("   outreach config validate -c %s\n", initOutput)
	fmt.Println()
	fmt.Println("3. Enroll prospects:")
	fmt.Printf("   outreach prospect import prospects.yaml -c %s\n", initOutput)
	fmt.Println()
	fmt.Println("4. Start the engine:")
	fmt.Printf("   outreach serve -c %s\n", initOutput)
	fmt.Println()
	fmt.Println("5. Check the review queue:")
	fmt.Println("   curl http://localhost:8080/api/v1/reviews \\")
	fmt.Printf("     -H \"Authorization: Bearer %s\"\n", apiKey)
	fmt.Println()
}
