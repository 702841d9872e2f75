package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/mr1hm/go-relief-ledger/internal/auth"
	internalgrpc "github.com/mr1hm/go-relief-ledger/internal/grpc"
	"github.com/mr1hm/go-relief-ledger/internal/models"
	"github.com/mr1hm/go-relief-ledger/internal/severity"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ledgerctl",
		Short:        "Operator tool for the relief ledger",
		SilenceUsage: true,
	}
	root.AddCommand(newScoreCmd(), newTokenCmd(), newWatchCmd())
	return root
}

// measurement is a float flag that remembers whether it was set, so an
// omitted measurement scores as missing rather than zero.
type measurement struct {
	name  string
	usage string
	value float64
}

func newScoreCmd() *cobra.Command {
	var probs models.ClassProbabilities
	measurements := []*measurement{
		{name: "rainfall", usage: "rainfall in mm"},
		{name: "water-level", usage: "water level in cm"},
		{name: "population", usage: "people affected"},
		{name: "damage", usage: "infrastructure damage percentage (0-100)"},
		{name: "area", usage: "impact area in km2"},
	}

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a report and print the result as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := severity.Inputs{Probabilities: probs}
			targets := map[string]**float64{
				"rainfall":    &in.RainfallMM,
				"water-level": &in.WaterLevelCM,
				"population":  &in.PopulationAffected,
				"damage":      &in.InfrastructureDamage,
				"area":        &in.ImpactAreaKM2,
			}
			for _, m := range measurements {
				if cmd.Flags().Changed(m.name) {
					v := m.value
					*targets[m.name] = &v
				}
			}

			result, err := severity.New(severity.DefaultConfig()).Compute(in)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	flags := cmd.Flags()
	flags.Float64Var(&probs.Low, "low", 0, "classifier probability of low severity")
	flags.Float64Var(&probs.Medium, "medium", 0, "classifier probability of medium severity")
	flags.Float64Var(&probs.High, "high", 0, "classifier probability of high severity")
	for _, m := range measurements {
		flags.Float64Var(&m.value, m.name, 0, m.usage)
	}
	_ = cmd.MarkFlagRequired("low")
	_ = cmd.MarkFlagRequired("medium")
	_ = cmd.MarkFlagRequired("high")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		principal string
		secret    string
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token for a principal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return errors.New("a signing secret is required (--secret or JWT_SECRET)")
			}
			token, err := auth.GenerateToken(principal, secret, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&principal, "principal", "", "principal the token identifies")
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC signing secret (defaults to JWT_SECRET)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("principal")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var addr, aggregateType, kind string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print ledger notifications as they are committed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watch(ctx, cmd.OutOrStdout(), addr, aggregateType, kind)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "gRPC address of the ledger server")
	cmd.Flags().StringVar(&aggregateType, "aggregate-type", "", "only show event, fund, donation, custody or principal notifications")
	cmd.Flags().StringVar(&kind, "kind", "", "only show one notification kind, e.g. fund.distributed")
	return cmd
}

func watch(ctx context.Context, out io.Writer, addr, aggregateType, kind string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("error connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	stream, err := internalgrpc.StreamNotifications(ctx, conn, aggregateType, kind)
	if err != nil {
		return fmt.Errorf("error opening notification stream: %w", err)
	}
	for {
		msg, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		line, err := protojson.Marshal(msg)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(out, string(line)); err != nil {
			return err
		}
	}
}
