/*
Package cmd provides the CLI commands for clubmail.
*/
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// defaultConfigFile is used when --config is not given
const defaultConfigFile = "email_config.json"

var (
	cfgFile string
	verbose bool
	debug   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "clubmail",
	Short: "Personalized bulk email from a recipient table",
	Long: `clubmail merges every row of a recipient table into a subject and
body template and delivers the result through an SMTP relay or AWS SES.

Sends are paced by an hourly ceiling and a random pause between messages.
Use --test to preview the messages without connecting to any server.

Example:
  clubmail send --csv members.csv --template newsletter.html --subject 'Hi $name' --test
  clubmail send --csv members.csv --template newsletter.html --subject 'Hi $name' --limit 50
  clubmail send --csv members.csv --template newsletter.html --subject 'Hi $name' --skip 50
  clubmail init
  clubmail check --csv members.csv`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// SIGINT and SIGTERM cancel the running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initLogging)

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", defaultConfigFile, "configuration file (JSON, or YAML by extension)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug output")

	// Add subcommands
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(completionCmd)
}

func initLogging() {
	if debug {
		log.SetLevel(log.DebugLevel)
	} else if verbose {
		log.SetLevel(log.InfoLevel)
	} else {
		log.SetLevel(log.WarnLevel)
	}
}

func configPath() string {
	if cfgFile == "" {
		return defaultConfigFile
	}
	return cfgFile
}
