package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/oarkflow/clubmail/internal/config"
	"github.com/oarkflow/clubmail/internal/dispatch"
	"github.com/oarkflow/clubmail/internal/logging"
	"github.com/oarkflow/clubmail/internal/prompt"
	"github.com/oarkflow/clubmail/internal/recipient"
	"github.com/oarkflow/clubmail/internal/throttle"
	"github.com/oarkflow/clubmail/internal/transport"
	"github.com/oarkflow/clubmail/internal/transport/ses"
	"github.com/oarkflow/clubmail/internal/transport/smtp"
)

// passwordEnv supplies the SMTP password without a prompt
const passwordEnv = "CLUBMAIL_PASSWORD"

// SendOptions contains the flags of the send command
type SendOptions struct {
	ConfigFile  string
	CSVFile     string
	Template    string
	Subject     string
	Attachments string
	Test        bool
	Limit       int
	Skip        int
	SMTPServer  string
	Port        int
	Email       string
	Delay       string
	Rate        int
	Transport   string
	Security    string
	Yes         bool
}

var sendOpts = SendOptions{Limit: -1}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send personalized emails to every recipient",
	Long: `Send one personalized email per row of the recipient file.

The subject and the body are templates: $name or ${name} is replaced by the
value of the "name" column. The body may be a file path or inline text.

Use --test to print a preview of every message instead of sending.
Use --skip and --limit to send a batch and resume later.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := sendOpts
		opts.ConfigFile = configPath()
		return runSend(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendOpts.CSVFile, "csv", "", "CSV file with recipient data")
	sendCmd.Flags().StringVar(&sendOpts.Template, "template", "", "email template file (HTML) or inline template")
	sendCmd.Flags().StringVar(&sendOpts.Subject, "subject", "", "email subject line (can include template variables)")
	sendCmd.Flags().StringVar(&sendOpts.Attachments, "attachments", "", "comma-separated list of files to attach")
	sendCmd.Flags().BoolVar(&sendOpts.Test, "test", false, "test mode - don't actually send emails")
	sendCmd.Flags().IntVar(&sendOpts.Limit, "limit", -1, "limit number of emails to send (default all)")
	sendCmd.Flags().IntVar(&sendOpts.Skip, "skip", 0, "skip first N recipients")
	sendCmd.Flags().StringVar(&sendOpts.SMTPServer, "smtp", "", "SMTP server")
	sendCmd.Flags().IntVar(&sendOpts.Port, "port", 0, "SMTP port")
	sendCmd.Flags().StringVar(&sendOpts.Email, "email", "", "sender email address")
	sendCmd.Flags().StringVar(&sendOpts.Delay, "delay", "", "delay range in seconds (min,max)")
	sendCmd.Flags().IntVar(&sendOpts.Rate, "rate", 0, "maximum emails per hour")
	sendCmd.Flags().StringVar(&sendOpts.Transport, "transport", "", "delivery transport (smtp, ses)")
	sendCmd.Flags().StringVar(&sendOpts.Security, "security", "", "SMTP connection security (starttls, tls, none)")
	sendCmd.Flags().BoolVarP(&sendOpts.Yes, "yes", "y", false, "do not ask for confirmation")

	_ = sendCmd.MarkFlagRequired("csv")
	_ = sendCmd.MarkFlagRequired("template")
	_ = sendCmd.MarkFlagRequired("subject")
}

// runSend loads configuration and recipients, asks for what is missing and
// hands the job to the dispatcher. The configuration is saved after the run.
func runSend(ctx context.Context, opts SendOptions, in io.Reader, out io.Writer) error {
	if opts.Skip < 0 {
		return fmt.Errorf("--skip must not be negative, got %d", opts.Skip)
	}

	cfg, loadErr := config.Load(opts.ConfigFile)
	if loadErr != nil {
		fmt.Fprintf(out, "Error loading config file: %v\n", loadErr)
	} else if _, err := os.Stat(opts.ConfigFile); err == nil {
		fmt.Fprintf(out, "Loaded configuration from %s\n", opts.ConfigFile)
	}

	override := config.Config{
		SMTPServer:   opts.SMTPServer,
		SMTPPort:     opts.Port,
		FromEmail:    opts.Email,
		RateLimit:    opts.Rate,
		Transport:    opts.Transport,
		SMTPSecurity: opts.Security,
	}
	if opts.Delay != "" {
		delay, err := config.ParseDelayRange(opts.Delay)
		if err != nil {
			fmt.Fprintln(out, "Invalid delay format. Use min,max (e.g., 30,90)")
		} else {
			override.DelayRange = delay
		}
	}
	base := *cfg
	if err := cfg.Merge(override); err != nil {
		return err
	}
	overrideErr := cfg.Validate()
	if overrideErr != nil {
		fmt.Fprintf(out, "Ignoring command line settings: %v\n", overrideErr)
		*cfg = base
	}

	logger, closer, err := logging.Open(cfg.LogFile)
	if err != nil {
		log.Warn("Run log unavailable", "file", cfg.LogFile, "error", err)
		logger = logging.Discard()
	} else {
		defer closer.Close()
	}
	if loadErr != nil {
		logger.Error("Error loading config file", "file", opts.ConfigFile, "err", loadErr)
	}
	if overrideErr != nil {
		logger.Warn("Ignoring command line settings", "err", overrideErr)
	}

	p := prompt.New(in, out)
	if cfg.FromEmail == "" {
		if cfg.FromEmail, err = p.Line("Sender email: "); err != nil {
			return err
		}
	}
	if !opts.Test && cfg.Transport != config.TransportSES {
		cfg.Password = os.Getenv(passwordEnv)
		if cfg.Password == "" {
			if cfg.Password, err = p.Password(fmt.Sprintf("Password for %s: ", cfg.FromEmail)); err != nil {
				return err
			}
		}
	}

	recipients, err := recipient.Load(opts.CSVFile, recipient.Options{Comma: cfg.Comma()})
	if err != nil {
		logger.Error("Error reading CSV file", "file", opts.CSVFile, "err", err)
		fmt.Fprintf(out, "Error reading CSV file: %v\n", err)
		recipients = nil
	} else {
		fmt.Fprintf(out, "Loaded %d recipients from %s\n", len(recipients), opts.CSVFile)
	}

	attachments := existingFiles(opts.Attachments)
	if len(attachments) > 0 {
		names := make([]string, len(attachments))
		for i, a := range attachments {
			names[i] = filepath.Base(a)
		}
		fmt.Fprintf(out, "Will attach %d files: %s\n", len(attachments), strings.Join(names, ", "))
	}

	if !opts.Test && len(recipients) > 0 && !opts.Yes {
		n := len(dispatch.Window(recipients, opts.Skip, opts.Limit))
		ok, err := p.Confirm(fmt.Sprintf("Ready to send %d emails. Proceed? (y/n): ", n))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Operation cancelled")
			return nil
		}
	}

	d := dispatch.New(dispatch.Options{
		From:   cfg.FromEmail,
		Dialer: newDialer(cfg),
		Throttle: throttle.New(cfg.RateLimit, cfg.MinDelay(), cfg.MaxDelay(), throttle.Options{
			Cooldown: time.Duration(cfg.Cooldown) * time.Second,
			Logger:   logger,
			Out:      out,
		}),
		Logger: logger,
		Out:    out,
	})

	_, runErr := d.Run(ctx, recipients, dispatch.Job{
		Subject:     opts.Subject,
		Body:        opts.Template,
		Test:        opts.Test,
		Attachments: attachments,
		Limit:       opts.Limit,
		Skip:        opts.Skip,
	})

	if err := cfg.Save(opts.ConfigFile); err != nil {
		logger.Error("Error saving config file", "file", opts.ConfigFile, "err", err)
		fmt.Fprintf(out, "Error saving config file: %v\n", err)
	} else {
		fmt.Fprintf(out, "Configuration saved to %s\n", opts.ConfigFile)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("send failed: %w", runErr)
	}
	return nil
}

// newDialer selects the transport named in the configuration
func newDialer(cfg *config.Config) transport.Dialer {
	if cfg.Transport == config.TransportSES {
		return ses.New(ses.Config{
			Region:          cfg.SESRegion,
			AccessKeyID:     os.Getenv("SES_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("SES_SECRET_ACCESS_KEY"),
		})
	}
	return smtp.New(smtp.Config{
		Addr:     cfg.Address(),
		Security: cfg.SMTPSecurity,
		Username: cfg.Username(),
		Password: cfg.Password,
	})
}

// existingFiles splits a comma-separated list and keeps the paths that exist
func existingFiles(list string) []string {
	if list == "" {
		return nil
	}
	var files []string
	for _, f := range strings.Split(list, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			log.Warn("Skipping missing attachment", "file", f)
			continue
		}
		files = append(files, f)
	}
	return files
}
