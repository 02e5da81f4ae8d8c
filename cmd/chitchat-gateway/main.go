// ABOUTME: Entry point for the chitchat-gateway messaging server
// ABOUTME: Dispatches the serve, init, bootstrap, health, and ready subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/kvchvn/chitchat-backend/internal/config"
	"github.com/kvchvn/chitchat-backend/internal/gateway"
)

// version is overridden with -ldflags "-X main.version=..." at build time.
var version = "dev"

const banner = `
       _     _ _       _           _
   ___| |__ (_) |_ ___| |__   __ _| |_
  / __| '_ \| | __/ __| '_ \ / _' | __|
 | (__| | | | | || (__| | | | (_| | |_
  \___|_| |_|_|\__\___|_| |_|\__,_|\__|
`

const usage = `Usage: chitchat-gateway <command> [flags]

Commands:
  serve                  Start the gateway server
  init                   Create a new config file interactively
  bootstrap --name NAME  Create a user and print a session token
  health                 Check gateway liveness
  ready                  Check gateway readiness

Every command accepts --config PATH (default: $CHITCHAT_CONFIG or
$XDG_CONFIG_HOME/chitchat/gateway.yaml).
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "init":
		err = runInit(args, os.Stdin, os.Stdout)
	case "bootstrap":
		err = runBootstrap(ctx, args, os.Stdout)
	case "health":
		err = runProbe(ctx, args, "/health")
	case "ready":
		err = runProbe(ctx, args, "/health/ready")
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	case "--version", "version":
		fmt.Println(version)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newFlagSet creates a subcommand flag set carrying the shared --config flag.
func newFlagSet(name string, configPath *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(configPath, "config", "c", "", "path to the config file")
	return fs
}

// parseFlags parses args and rejects positional arguments.
func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return nil
}

func runServe(ctx context.Context, args []string) error {
	var configFlag string
	fs := newFlagSet("serve", &configFlag)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	configPath := config.Path(configFlag)

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", describeDatabase(cfg.Database))
	green.Print("    ▶ ")
	fmt.Printf("Retention: %d messages per channel\n", cfg.Chat.MaxMessagesPerChannel)
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}
	fmt.Println()

	logger.Info("starting chitchat-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Driver,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

// describeDatabase names the store without leaking DSN credentials.
func describeDatabase(db config.DatabaseConfig) string {
	if db.Driver == config.DriverPostgres {
		return "postgres"
	}
	return "sqlite " + db.Path
}

// runProbe requests a health endpoint of the configured gateway and prints
// the response body.
func runProbe(ctx context.Context, args []string, path string) error {
	var configFlag string
	fs := newFlagSet(path, &configFlag)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	cfg, err := config.Load(config.Path(configFlag))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	fmt.Println(string(body))
	return nil
}
