/*
Package clubmail sends personalized bulk email to the members of a club or
mailing list.

Every row of a recipient table (CSV or TSV with a header row) is merged into
a subject and a body template, then delivered over SMTP or AWS SES with a
per-hour ceiling and a random pause between messages:
  - Templates use $name and ${name} placeholders, $$ is a literal dollar
  - A test mode prints a preview of each message instead of sending
  - Skip and limit select a batch so a long list can be sent over several days
  - Every run is recorded in an append-only log file

# Configuration

Connection and pacing settings live in email_config.json (or a YAML file
named with --config). Command line flags override the file and the merged
result is written back after each run. The password is never stored.

# Usage

	clubmail init                                                      # Write a starter configuration
	clubmail check --csv members.csv                                   # Validate configuration and recipients
	clubmail send --csv members.csv --template body.html --subject 'Hi $name' --test
	clubmail send --csv members.csv --template body.html --subject 'Hi $name' --limit 50
*/
package clubmail

// Version is the current version of clubmail
const Version = "1.0.0"

// BuildDate is set at build time
var BuildDate string

// GitCommit is set at build time
var GitCommit string
