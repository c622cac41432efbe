package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/foxzi/outreach/internal/dkim"
)

var (
	dkimDomain   string
	dkimSelector string
	dkimKeyFile  string
	dkimOutDir   string
	dkimBits     int
)

var dkimCmd = &cobra.Command{
	Use:   "dkim",
	Short: "DKIM key management commands",
}

var dkimGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a DKIM key pair for an SMTP provider",
	Long:  `Generate an RSA DKIM key pair and print the DNS TXT record to publish.`,
	RunE:  runDKIMGenerate,
}

var dkimShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show DKIM DNS record from existing key",
	RunE:  runDKIMShow,
}

func init() {
	dkimGenerateCmd.Flags().StringVar(&dkimDomain, "domain", "", "Domain name (required)")
	dkimGenerateCmd.Flags().StringVar(&dkimSelector, "selector", "outreach", "DKIM selector")
	dkimGenerateCmd.Flags().StringVar(&dkimOutDir, "out", ".", "Output directory for key file")
	dkimGenerateCmd.Flags().IntVar(&dkimBits, "bits", dkim.DefaultKeyBits, "RSA key size")
	dkimGenerateCmd.MarkFlagRequired("domain")

	dkimShowCmd.Flags().StringVar(&dkimKeyFile, "key", "", "Path to private key file (required)")
	dkimShowCmd.Flags().StringVar(&dkimDomain, "domain", "", "Domain name (required)")
	dkimShowCmd.Flags().StringVar(&dkimSelector, "selector", "outreach", "DKIM selector")
	dkimShowCmd.MarkFlagRequired("key")
	dkimShowCmd.MarkFlagRequired("domain")

	dkimCmd.AddCommand(dkimGenerateCmd, dkimShowCmd)
	rootCmd.AddCommand(dkimCmd)
}

func runDKIMGenerate(cmd *cobra.Command, args []string) error {
	kp, err := dkim.GenerateKeyPair(dkimDomain, dkimSelector, dkimBits)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	keyPath := filepath.Join(dkimOutDir, fmt.Sprintf("%s.%s.pem", dkimDomain, dkimSelector))
	if err := kp.WriteKey(keyPath); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}

	fmt.Printf("DKIM key generated successfully\n\n")
	fmt.Printf("Private key saved to: %s\n\n", keyPath)
	return printDKIMRecord(kp)
}

func runDKIMShow(cmd *cobra.Command, args []string) error {
	key, err := dkim.LoadPrivateKey(dkimKeyFile)
	if err != nil {
		return err
	}
	return printDKIMRecord(&dkim.KeyPair{Key: key, Domain: dkimDomain, Selector: dkimSelector})
}

func printDKIMRecord(kp *dkim.KeyPair) error {
	value, err := kp.RecordValue()
	if err != nil {
		return err
	}
	fmt.Printf("DNS Record:\n")
	fmt.Printf("  Name: %s\n", kp.RecordName())
	fmt.Printf("  Type: TXT\n")
	fmt.Printf("  Value: %s\n", value)
	return nil
}
