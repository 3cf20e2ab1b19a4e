package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/oarkflow/clubmail"
	"github.com/oarkflow/clubmail/internal/config"
	"github.com/oarkflow/clubmail/internal/recipient"
)

var checkCSV string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check configuration and recipient files",
	Long: `Check if the configuration file is valid.

This validates:
  - JSON or YAML syntax
  - Port, rate and delay values
  - Transport and connection security names

With --csv the recipient file is parsed as well and rows without an
email address are reported.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(configPath(), checkCSV, cmd.OutOrStdout())
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkCSV, "csv", "", "CSV file with recipient data")
}

func runCheck(path, csvFile string, out io.Writer) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	fmt.Fprintf(out, "✓ Configuration file %s is valid\n", path)

	if csvFile == "" {
		return nil
	}

	recipients, err := recipient.Load(csvFile, recipient.Options{Comma: cfg.Comma()})
	if err != nil {
		return fmt.Errorf("failed to read recipients: %w", err)
	}

	missing := 0
	for i, rec := range recipients {
		if _, ok := rec.Email(); !ok {
			missing++
			log.Debug("Row without email", "row", i+2)
		}
	}
	fmt.Fprintf(out, "✓ %s has %d recipients\n", csvFile, len(recipients))
	if missing > 0 {
		fmt.Fprintf(out, "! %d rows have no email address and will be counted as failures\n", missing)
	}
	return nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new configuration file",
	Long: `Initialize a new email_config.json configuration file.

This creates a basic configuration file that you can customize
for your mail server. The password is never stored in it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInit(configPath(), cmd.OutOrStdout())
	},
}

func runInit(path string, out io.Writer) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	if err := os.WriteFile(path, []byte(config.DefaultTemplate()), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(out, "✓ Created %s\n", path)
	fmt.Fprintln(out, "\nEdit this file to set your mail server and sender address.")
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit, and build date of clubmail.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "clubmail %s\n", clubmail.Version)
		if clubmail.GitCommit != "" {
			fmt.Fprintf(out, "  Commit: %s\n", clubmail.GitCommit)
		}
		if clubmail.BuildDate != "" {
			fmt.Fprintf(out, "  Built:  %s\n", clubmail.BuildDate)
		}
	},
}
