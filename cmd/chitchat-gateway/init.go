// ABOUTME: Interactive init command writing a gateway config file
// ABOUTME: Validates the generated config before writing it

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kvchvn/chitchat-backend/internal/config"
)

// runInit writes a config file from interactive answers. With --yes every
// question takes its default.
func runInit(args []string, in io.Reader, out io.Writer) error {
	var (
		configFlag string
		yes        bool
	)
	fs := newFlagSet("init", &configFlag)
	fs.BoolVarP(&yes, "yes", "y", false, "accept every default without prompting")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	p := &prompter{reader: bufio.NewReader(in), out: out, defaults: yes}
	defaults := config.Default()

	fmt.Fprintln(out, "chitchat-gateway configuration setup")
	fmt.Fprintln(out, "====================================")
	fmt.Fprintln(out)

	outputFile := p.ask("Config file path", config.Path(configFlag))
	if _, err := os.Stat(outputFile); err == nil {
		if !p.confirm("File exists. Overwrite?") {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	httpAddr := p.ask("HTTP address", defaults.Server.HTTPAddr)
	origins := p.ask("Allowed WebSocket origins (comma separated, empty for any)", "")

	fmt.Fprintln(out, "\n--- Database Configuration ---")
	driver := p.ask("Driver (sqlite/postgres)", defaults.Database.Driver)
	var dbPath, dsn string
	if driver == config.DriverPostgres {
		dsn = p.ask("Postgres DSN", "postgres://chitchat@localhost:5432/chitchat")
	} else {
		dbPath = p.ask("SQLite database path", defaults.Database.Path)
	}

	fmt.Fprintln(out, "\n--- Chat Configuration ---")
	maxMessages := p.ask("Messages kept per channel", fmt.Sprint(defaults.Chat.MaxMessagesPerChannel))

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	logLevel := p.ask("Log level (debug/info/warn/error)", defaults.Logging.Level)
	logFormat := p.ask("Log format (text/json)", defaults.Logging.Format)

	var cfg strings.Builder
	cfg.WriteString("# chitchat-gateway configuration\n")
	cfg.WriteString("# Generated by chitchat-gateway init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n", httpAddr)
	if origins != "" {
		cfg.WriteString("  allowed_origins:\n")
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				fmt.Fprintf(&cfg, "    - %q\n", o)
			}
		}
	}
	cfg.WriteString("  shutdown_timeout: \"15s\"\n\n")

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  driver: %q\n", driver)
	if dsn != "" {
		fmt.Fprintf(&cfg, "  dsn: %q\n", dsn)
	} else {
		fmt.Fprintf(&cfg, "  path: %q\n", dbPath)
	}
	cfg.WriteString("\n")

	cfg.WriteString("chat:\n")
	fmt.Fprintf(&cfg, "  max_messages_per_channel: %s\n", maxMessages)
	fmt.Fprintf(&cfg, "  max_content_length: %d\n\n", defaults.Chat.MaxContentLength)

	cfg.WriteString("realtime:\n")
	cfg.WriteString("  write_timeout: \"10s\"\n")
	cfg.WriteString("  pong_timeout: \"60s\"\n")
	cfg.WriteString("  ping_interval: \"54s\"\n")
	cfg.WriteString("  operation_timeout: \"10s\"\n\n")

	cfg.WriteString("sessions:\n")
	cfg.WriteString("  sweep_interval: \"1h\"\n\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n\n", logFormat)

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: true\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	// Refuse to write a file that serve would reject.
	if _, err := config.Parse(cfg.String(), false); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintf(out, "  chitchat-gateway serve --config %s\n", outputFile)
	return nil
}

type prompter struct {
	reader   *bufio.Reader
	out      io.Writer
	defaults bool
}

func (p *prompter) ask(question, defaultVal string) string {
	if p.defaults {
		return defaultVal
	}
	if defaultVal != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(p.out, "%s: ", question)
	}

	input, err := p.reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if err != nil && input == "" {
		// EOF takes the default
		fmt.Fprintln(p.out)
		return defaultVal
	}
	if input == "" {
		return defaultVal
	}
	return input
}

func (p *prompter) confirm(question string) bool {
	if p.defaults {
		return true
	}
	answer := strings.ToLower(p.ask(question, "no"))
	return answer == "yes" || answer == "y"
}
