// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomtom215/ledgerwatch/internal/audit"
	"github.com/tomtom215/ledgerwatch/internal/auth"
	"github.com/tomtom215/ledgerwatch/internal/config"
	"github.com/tomtom215/ledgerwatch/internal/logging"
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ledgerwatch",
		Short: "Ledgerwatch - activity audit and compliance alerting",
		Long: `Ledgerwatch records user activity as an audit trail, evaluates alert
rules against each new entry and notifies administrators when a rule fires.

Running ledgerwatch without a subcommand starts the server.`,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if configPath != "" {
				return os.Setenv(config.ConfigPathEnvVar, configPath)
			}
			return nil
		},
		RunE:          runServeCmd,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: CONFIG_PATH or ./config.yaml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newTokenCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the audit server",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg)
}

// serve runs the server until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	logging.Info().
		Str("address", cfg.Server.Address()).
		Str("store", cfg.Store.Backend).
		Str("data_dir", cfg.Store.DataDir).
		Str("auth_mode", cfg.Security.AuthMode).
		Msg("Starting Ledgerwatch")

	tree := a.tree()
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree stopped: %w", err)
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within the shutdown timeout")
		}
	}
	logging.Info().Msg("Ledgerwatch stopped")
	return nil
}

func newTokenCmd() *cobra.Command {
	var userID, name, role string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an API token for a user",
		Long: `Sign a bearer token for a user from the configured user directory.
--name and --role override the directory entry and allow service accounts
that are not listed there.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			actor, err := tokenActor(cfg, userID, name, role)
			if err != nil {
				return err
			}
			token, err := mintToken(cfg, actor)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "role")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// tokenActor resolves the token subject against the configured users.
func tokenActor(cfg *config.Config, userID, name, role string) (audit.Actor, error) {
	actor := audit.Actor{ID: userID}
	for _, u := range cfg.Alerting.Users {
		if u.ID == userID {
			actor.Name, actor.Role = u.Name, u.Role
			break
		}
	}
	if name != "" {
		actor.Name = name
	}
	if role != "" {
		actor.Role = role
	}
	if actor.Role == "" {
		return audit.Actor{}, fmt.Errorf("user %q is not configured; pass --role", userID)
	}
	return actor, nil
}

func mintToken(cfg *config.Config, actor audit.Actor) (string, error) {
	if cfg.Security.AuthMode == "none" {
		return "", errors.New("tokens are not used with AUTH_MODE=none")
	}
	m, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
		return "", err
	}
	return m.GenerateToken(actor)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})

	if cfg.ShouldWarnAboutCORS() {
		logging.Warn().Msg("CORS allows any origin; set CORS_ORIGINS for production")
	}
	return cfg, nil
}
