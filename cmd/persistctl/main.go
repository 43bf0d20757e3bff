// Command persistctl is a small operational front door for the pg
// persistence backend: bootstrap a schema, run deferred index creation,
// report freshness status and table sizes, and flip the read-only flag.
// It binds flags and environment variables through viper the way the
// teacher's cmd/bd binds its own flags; no config file is read.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/sadroad/convex-pg/internal/persistence/pg"
)

// installTelemetry installs SDK providers in place of otel's
// no-op global defaults, the way the teacher's cmd/bd wires a provider
// at the process entrypoint. No exporter is attached here; which one to
// use (OTLP, stdout, none) is an operator decision left to the host
// environment, same as the library-side note in pg/telemetry.go.
func installTelemetry() {
	otel.SetTracerProvider(sdktrace.NewTracerProvider())
	otel.SetMeterProvider(sdkmetric.NewMeterProvider())
}

var rootCmd = &cobra.Command{
	Use:   "persistctl",
	Short: "Operate a convex-pg persistence schema",
}

func init() {
	rootCmd.PersistentFlags().String("url", "", "PostgreSQL connection string (env PERSISTCTL_URL)")
	rootCmd.PersistentFlags().String("schema", "", "schema name, defaults to current_schema()")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
	viper.BindPFlag("schema", rootCmd.PersistentFlags().Lookup("schema"))
	viper.SetEnvPrefix("persistctl")
	viper.AutomaticEnv()

	rootCmd.AddCommand(bootstrapCmd, finishLoadingCmd, statusCmd, sizeStatsCmd, setReadOnlyCmd)
}

func newStoreConfig(skipIndexCreation, allowReadOnly bool) *pg.Config {
	return &pg.Config{
		URL:               viper.GetString("url"),
		Schema:            viper.GetString("schema"),
		SkipIndexCreation: skipIndexCreation,
		AllowReadOnly:     allowReadOnly,
	}
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the schema if absent and report whether it was freshly created",
	RunE: func(cmd *cobra.Command, args []string) error {
		skipIndex, _ := cmd.Flags().GetBool("skip-index-creation")
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()
		s, err := pg.New(ctx, newStoreConfig(skipIndex, true))
		if err != nil {
			return err
		}
		defer s.Close()
		fmt.Fprintf(os.Stdout, "bootstrap complete; fresh=%v\n", s.IsFresh())
		return nil
	},
}

func init() {
	bootstrapCmd.Flags().Bool("skip-index-creation", false, "defer CREATE INDEX to a later 'finish-loading' call")
}

var finishLoadingCmd = &cobra.Command{
	Use:   "finish-loading",
	Short: "Run CREATE INDEX statements deferred by a prior bootstrap --skip-index-creation",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := pg.New(cmd.Context(), newStoreConfig(true, true))
		if err != nil {
			return err
		}
		defer s.Close()
		return s.FinishLoading(cmd.Context())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report freshness status (the read-only flag is not reported)",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := pg.New(cmd.Context(), newStoreConfig(false, true))
		if err != nil {
			return err
		}
		defer s.Close()
		fmt.Fprintf(os.Stdout, "fresh=%v\n", s.IsFresh())
		return nil
	},
}

var sizeStatsCmd = &cobra.Command{
	Use:   "table-size-stats",
	Short: "Report per-table data/index bytes and row-count estimate",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := pg.New(cmd.Context(), newStoreConfig(false, true))
		if err != nil {
			return err
		}
		defer s.Close()

		r := pg.NewReader(s.Pool(), s.Schema(), nil, "")
		stats, err := r.TableSizeStats(cmd.Context())
		if err != nil {
			return err
		}
		for _, t := range stats {
			rows := "unknown"
			if t.RowCount != nil {
				rows = fmt.Sprintf("%d", *t.RowCount)
			}
			fmt.Fprintf(os.Stdout, "%-20s data=%d index=%d rows~=%s\n", t.Table, t.DataBytes, t.IndexBytes, rows)
		}
		return nil
	},
}

var setReadOnlyCmd = &cobra.Command{
	Use:   "set-read-only [true|false]",
	Short: "Set or clear the read-only flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		readOnly := args[0] == "true"
		s, err := pg.New(cmd.Context(), newStoreConfig(false, true))
		if err != nil {
			return err
		}
		defer s.Close()
		return s.SetReadOnly(cmd.Context(), readOnly)
	},
}

func main() {
	installTelemetry()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
