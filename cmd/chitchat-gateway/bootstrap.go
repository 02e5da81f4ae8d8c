// ABOUTME: Bootstrap command creating a user with a fresh session token
// ABOUTME: Lets clients connect to a development gateway without an identity provider

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/kvchvn/chitchat-backend/internal/config"
	"github.com/kvchvn/chitchat-backend/internal/gateway"
	"github.com/kvchvn/chitchat-backend/internal/store"
)

// defaultSessionTTL is how long a bootstrapped session token stays valid.
const defaultSessionTTL = 30 * 24 * time.Hour

type bootstrapOptions struct {
	name  string
	email string
	image string
	ttl   time.Duration
}

func (o bootstrapOptions) validate() error {
	if o.name == "" {
		return errors.New("--name flag is required")
	}
	if len(o.name) > 100 {
		return errors.New("name exceeds maximum length of 100 characters")
	}
	if o.ttl <= 0 {
		return errors.New("--ttl must be positive")
	}
	return nil
}

// runBootstrap creates a user with a fresh session so that clients can
// connect to a development gateway without an external identity provider:
//
//	chitchat-gateway bootstrap --name "Ada" --email ada@example.com
func runBootstrap(ctx context.Context, args []string, out io.Writer) error {
	var (
		configFlag string
		opts       bootstrapOptions
	)
	fs := newFlagSet("bootstrap", &configFlag)
	fs.StringVarP(&opts.name, "name", "n", "", "display name of the new user")
	fs.StringVar(&opts.email, "email", "", "email of the new user")
	fs.StringVar(&opts.image, "image", "", "avatar URL of the new user")
	fs.DurationVar(&opts.ttl, "ttl", defaultSessionTTL, "lifetime of the session token")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	opts.name = strings.TrimSpace(opts.name)
	if err := opts.validate(); err != nil {
		return err
	}

	cfg, configPath, err := loadOrDefault(configFlag)
	if err != nil {
		return err
	}

	s, err := gateway.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	user, session, err := bootstrap(ctx, s, opts, time.Now())
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if configPath != "" {
		cyan.Fprintf(out, "  Using config: %s\n", configPath)
	}
	green.Fprintf(out, "  ✓ Database: %s\n", describeDatabase(cfg.Database))
	green.Fprintf(out, "  ✓ Created user: %s\n", user.Name)
	fmt.Fprintln(out)
	cyan.Fprintln(out, "  User")
	cyan.Fprintln(out, "  ----")
	fmt.Fprintf(out, "  ID:      %s\n", user.ID)
	fmt.Fprintf(out, "  Name:    %s\n", user.Name)
	if user.Email != "" {
		fmt.Fprintf(out, "  Email:   %s\n", user.Email)
	}
	fmt.Fprintf(out, "  Token:   %s\n", session.Token)
	fmt.Fprintf(out, "  Expires: %s\n", session.Expires.Format("Jan 02, 2006 15:04 MST"))
	fmt.Fprintln(out)
	yellow.Fprintln(out, "  Ready to go:")
	fmt.Fprintln(out, "    chitchat-gateway serve")
	fmt.Fprintf(out, "    ws://%s/ws?token=%s\n", cfg.Server.HTTPAddr, session.Token)
	fmt.Fprintln(out)
	return nil
}

// loadOrDefault loads the config file if it exists and falls back to the
// defaults otherwise. The returned path is empty when defaults are used.
func loadOrDefault(configFlag string) (*config.Config, string, error) {
	path := config.Path(configFlag)
	if _, err := os.Stat(path); err != nil {
		if configFlag == "" && errors.Is(err, os.ErrNotExist) {
			return config.Default(), "", nil
		}
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// bootstrap creates the user and its session.
func bootstrap(ctx context.Context, s store.Store, opts bootstrapOptions, now time.Time) (*store.User, *store.Session, error) {
	user := &store.User{
		ID:        uuid.NewString(),
		Name:      opts.name,
		Email:     opts.email,
		Image:     opts.image,
		CreatedAt: now.UTC(),
	}
	if err := s.CreateUser(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("creating user: %w", err)
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, nil, err
	}
	session := &store.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Token:     token,
		Expires:   now.Add(opts.ttl).UTC(),
		CreatedAt: now.UTC(),
	}
	if err := s.CreateSession(ctx, session); err != nil {
		return nil, nil, fmt.Errorf("creating session: %w", err)
	}
	return user, session, nil
}

func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
