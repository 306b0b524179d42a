// aggview bootstraps the ClickHouse argMax JSON aggregation views, inserts
// events and checks whether the merge view can be filtered on a sub-field of
// the aggregated JSON column.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chendingplano/aggview/api/aggharness"
	"github.com/chendingplano/aggview/api/aggschema"
	"github.com/chendingplano/aggview/api/chstore"
	"github.com/chendingplano/aggview/api/loggerutil"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	verbose   bool
	logFormat string
	logDir    string
)

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func createLogger() (*slog.Logger, io.Closer, error) {
	format, err := loggerutil.ParseFormat(logFormat)
	if err != nil {
		return nil, nil, err
	}
	logger, closer, err := loggerutil.New(loggerutil.Options{
		Format:  format,
		Verbose: verbose,
		FileDir: logDir,
	})
	if err != nil {
		return nil, nil, err
	}
	return logger.With("run_id", newRunID()), closer, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("Received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// session is everything a subcommand needs once the store is reachable.
type session struct {
	ctx     context.Context
	logger  *slog.Logger
	harness *aggharness.Harness
	close   func()
}

func openSession() (*session, error) {
	logger, logCloser, err := createLogger()
	if err != nil {
		return nil, err
	}

	config, err := chstore.LoadConfig()
	if err != nil {
		logCloser.Close()
		return nil, err
	}

	schema, err := aggschema.New(config.Database)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("%w: %v", chstore.ErrConfig, err)
	}

	var validator *aggharness.DocumentValidator
	if config.EventSchemaPath != "" {
		validator, err = aggharness.NewDocumentValidator(config.EventSchemaPath)
		if err != nil {
			logCloser.Close()
			return nil, fmt.Errorf("%w: %v", chstore.ErrConfig, err)
		}
	}

	ctx, cancel := signalContext(logger)
	caps := config.Capabilities()

	store, err := chstore.Open(ctx, config, caps.Settings())
	if err != nil {
		cancel()
		logCloser.Close()
		return nil, err
	}

	logger.Info("Connected to ClickHouse",
		"host", config.Host,
		"database", schema.Database,
		"encoding", aggharness.EncodingFor(caps).String())

	h := aggharness.New(store,
		aggharness.WithSchema(schema),
		aggharness.WithCapabilities(caps),
		aggharness.WithSink(aggharness.NewSlogSink(logger)),
		aggharness.WithValidator(validator))

	return &session{
		ctx:     ctx,
		logger:  logger,
		harness: h,
		close: func() {
			store.Close()
			cancel()
			logCloser.Close()
		},
	}, nil
}

// parseWhere splits a --where value of the form path=value. Surrounding
// spaces are dropped from both sides and an event_data. prefix on the path
// is optional.
func parseWhere(where string) (string, string, error) {
	path, value, ok := strings.Cut(where, "=")
	if !ok {
		return "", "", fmt.Errorf("--where must be path=value, got %q", where)
	}
	path = strings.TrimPrefix(strings.TrimSpace(path), aggschema.ColEventData+".")
	return path, strings.TrimSpace(value), nil
}

func printEvents(events []aggharness.Event) {
	for _, e := range events {
		fmt.Printf("%s\t%s\n", e.EventID, e.EventData)
	}
	fmt.Printf("(%d row(s))\n", len(events))
}

func printFilterReport(r *aggharness.FilterReport) {
	if r.Supported {
		fmt.Printf("Filter event_data.%s = %q: supported, %d row(s)\n", r.Path, r.Value, len(r.Rows))
		return
	}
	fmt.Printf("Filter event_data.%s = %q: NOT supported\n  %v\n", r.Path, r.Value, r.Err)
}

var rootCmd = &cobra.Command{
	Use:   "aggview",
	Short: "Bootstrap and verify ClickHouse argMax JSON aggregation views",
	Long: `aggview creates a raw MergeTree table, an AggregatingMergeTree table holding
argMax(JSON) state, a materialized view folding inserts into that state and a
merge view exposing one row per event_id. It then inserts events and queries
the merge view, reporting whether a filter on a JSON sub-field is supported.

Configuration via TOML file specified by AGGVIEW_CONFIG environment variable.
Connection via: CLICKHOUSE_HOST, CLICKHOUSE_PASSWORD, CLICKHOUSE_USER, CLICKHOUSE_DATABASE`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Bootstrap, insert the sample event, read the merge view and check the filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		allow, _ := cmd.Flags().GetBool("allow-unsupported-filter")

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		result, err := s.harness.Run(s.ctx, aggharness.DefaultRunOptions())
		if err != nil {
			s.logger.Error("Run failed", "kind", aggharness.KindOf(err).String(), "error", err)
			return err
		}

		fmt.Printf("\nRun complete:\n")
		fmt.Printf("  Rows inserted:   %d\n", result.Inserted)
		fmt.Printf("  Merge view rows: %d\n", len(result.Rows))
		fmt.Printf("  Duration:        %v\n", result.Duration)
		printEvents(result.Rows)
		if result.Filter != nil {
			printFilterReport(result.Filter)
			if !result.Filter.Supported && !allow {
				return result.Filter.Err
			}
		}
		return nil
	},
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Drop and recreate the four schema objects",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.harness.Bootstrap(s.ctx); err != nil {
			return err
		}
		fmt.Println("Schema created")
		return nil
	},
}

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Drop the four schema objects",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.harness.Teardown(s.ctx); err != nil {
			return err
		}
		fmt.Println("Schema dropped")
		return nil
	},
}

var insertCmd = &cobra.Command{
	Use:   "insert",
	Short: "Insert one event into the raw table",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		data, _ := cmd.Flags().GetString("data")
		if id == "" {
			return fmt.Errorf("--id is required")
		}

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		n, err := s.harness.Insert(s.ctx, aggharness.Event{EventID: id, EventData: data})
		if err != nil {
			return err
		}
		fmt.Printf("Inserted %d row(s)\n", n)
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Read the merge view, optionally by event_id or a sub-field filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		where, _ := cmd.Flags().GetString("where")
		if id != "" && where != "" {
			return fmt.Errorf("--id and --where are mutually exclusive")
		}

		var path, value string
		if where != "" {
			var err error
			if path, value, err = parseWhere(where); err != nil {
				return err
			}
		}

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		var events []aggharness.Event
		switch {
		case id != "":
			events, err = s.harness.EventByID(s.ctx, id)
		case where != "":
			events, err = s.harness.QueryBySubfield(s.ctx, path, value)
		default:
			events, err = s.harness.Events(s.ctx)
		}
		if err != nil {
			return err
		}
		printEvents(events)
		return nil
	},
}

var checkFilterCmd = &cobra.Command{
	Use:   "check-filter",
	Short: "Report whether event_data.<path> = value can be served by the merge view",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		value, _ := cmd.Flags().GetString("value")

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		report, err := s.harness.CheckSubfieldFilter(s.ctx, path, value)
		if err != nil {
			return err
		}
		printFilterReport(report)
		return nil
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the bootstrap script, or inspect the objects in the store",
	Long: `Prints the DDL script for the configured database without connecting.
With --inspect, connects and lists the objects found in system.tables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		drop, _ := cmd.Flags().GetBool("drop")
		inspect, _ := cmd.Flags().GetBool("inspect")

		if !inspect {
			database, _ := cmd.Flags().GetString("database")
			schema, err := aggschema.New(database)
			if err != nil {
				return err
			}
			if drop {
				fmt.Print(schema.DropScript())
			} else {
				fmt.Print(schema.Script())
			}
			return nil
		}

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		infos, err := s.harness.Inspect(s.ctx)
		if err != nil {
			return err
		}
		for _, o := range infos {
			fmt.Printf("%s (%s, %s)\n", o.Name, o.Kind, o.Engine)
			for _, c := range o.Columns {
				fmt.Printf("  %s %s\n", c.Name, c.Type)
			}
		}
		fmt.Printf("%d of %d object(s) present\n", len(infos), len(s.harness.Schema().Objects()))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text, json or pretty")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Also write logs to a rotating file in this directory (default $LOG_FILE_DIR)")

	runCmd.Flags().Bool("allow-unsupported-filter", false, "Exit zero when the sub-field filter is unsupported")

	insertCmd.Flags().String("id", "", "event_id of the row")
	insertCmd.Flags().String("data", "{}", "event_data as a JSON object")

	queryCmd.Flags().String("id", "", "Read the merged row for this event_id")
	queryCmd.Flags().String("where", "", "Filter on a sub-field, e.g. fizz=buzz")

	checkFilterCmd.Flags().String("path", "fizz", "Dot-separated event_data sub-field path")
	checkFilterCmd.Flags().String("value", "buzz", "Value the sub-field is compared with")

	schemaCmd.Flags().Bool("drop", false, "Print only the drop statements")
	schemaCmd.Flags().Bool("inspect", false, "Connect and list the schema objects present in the store")
	schemaCmd.Flags().String("database", "sam_test", "Database name used in the printed script")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(teardownCmd)
	rootCmd.AddCommand(insertCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(checkFilterCmd)
	rootCmd.AddCommand(schemaCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
