package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/LJTian/TicketWatch/internal/app"
	"github.com/LJTian/TicketWatch/internal/config"
	"github.com/LJTian/TicketWatch/internal/logging"
	"github.com/LJTian/TicketWatch/internal/scheduler"
	"github.com/LJTian/TicketWatch/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// a is built by the root command's pre-run and shared by every subcommand.
var a *app.App

// collect runs one round and exits; handy for manual triggers and for
// driving the pipelines from an external cron.
var rootCmd = &cobra.Command{
	Use:           "collect",
	Short:         "Run the TDF and TKTS pipelines once.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := logging.New("info"); err != nil {
			return err
		}
		cfg := config.Load()
		if _, err := logging.New(cfg.LogLevel); err != nil {
			return err
		}
		var err error
		a, err = app.New(cfg)
		return err
	},
}

var tdfCmd = &cobra.Command{
	Use:   "tdf",
	Short: "Diff the TDF show finder and email subscribers about new shows.",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := a.TDF.Run(cmd.Context())
		printReport(report)
		return err
	},
}

var tktsCmd = &cobra.Command{
	Use:   "tkts",
	Short: "Reconcile the TKTS board into the discount history.",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := a.TKTS.Run(cmd.Context())
		printReport(report)
		return err
	},
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Run every pipeline once, one after another.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := scheduler.New(a.Jobs())
		if err != nil {
			return err
		}
		return s.RunOnce(cmd.Context())
	},
}

var sub storage.TDFSubscriber

var subscribeCmd = &cobra.Command{
	Use:   "subscribe --email <address> [--broadway] [--off-broadway] [--off-off-broadway]",
	Short: "Create or update a TDF email subscription.",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateSubscription(sub)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := a.Store.UpsertSubscriber(cmd.Context(), sub); err != nil {
			return err
		}
		zap.S().Infof("subscription saved for %s", sub.Email)
		return nil
	},
}

func init() {
	f := subscribeCmd.Flags()
	f.StringVar(&sub.Email, "email", "", "subscriber email address")
	f.BoolVar(&sub.Broadway, "broadway", false, "notify about Broadway shows")
	f.BoolVar(&sub.OffBroadway, "off-broadway", false, "notify about Off-Broadway shows")
	f.BoolVar(&sub.OffOffBroadway, "off-off-broadway", false, "notify about Off-Off-Broadway shows")
	f.BoolVar(&sub.EmailVerified, "verified", true, "mark the address as verified")
	f.StringVar(&sub.Frequency, "frequency", storage.FrequencyImmediate, "immediate or daily")
	_ = subscribeCmd.MarkFlagRequired("email")

	rootCmd.AddCommand(tdfCmd, tktsCmd, allCmd, subscribeCmd)
}

func validateSubscription(s storage.TDFSubscriber) error {
	if strings.TrimSpace(s.Email) == "" {
		return fmt.Errorf("--email is required")
	}
	if !s.Broadway && !s.OffBroadway && !s.OffOffBroadway {
		return fmt.Errorf("pick at least one of --broadway, --off-broadway, --off-off-broadway")
	}
	switch s.Frequency {
	case storage.FrequencyImmediate, storage.FrequencyDaily:
		return nil
	default:
		return fmt.Errorf("--frequency must be %q or %q, got %q", storage.FrequencyImmediate, storage.FrequencyDaily, s.Frequency)
	}
}

func printReport(report any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
