// Command explorer runs the query safety pipeline from the terminal:
// validated SQL execution, natural-language querying, catalogue
// management, and health probes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/insano70/bcos-sub018/internal/allowlist"
	"github.com/insano70/bcos-sub018/internal/analytics"
	"github.com/insano70/bcos-sub018/internal/audit"
	"github.com/insano70/bcos-sub018/internal/authz"
	"github.com/insano70/bcos-sub018/internal/config"
	"github.com/insano70/bcos-sub018/internal/metadata"
	"github.com/insano70/bcos-sub018/internal/nlsql"
	"github.com/insano70/bcos-sub018/internal/observability"
	"github.com/insano70/bcos-sub018/internal/pipeline"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// Caller identity flags shared by all commands
	flagUserID      string
	flagOrgID       string
	flagSuperAdmin  bool
	flagPracticeIDs []int64
	flagPermissions []string
	flagDebug       bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:          "explorer",
	Short:        "Data explorer query safety pipeline",
	Long:         "Explorer validates, tenant-scopes, and executes analytics SQL.\nEvery query passes the same safety pipeline whether written by hand\nor generated from a natural-language question.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		if flagDebug {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
	},
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagUserID, "user", "", "acting user id")
	rootCmd.PersistentFlags().StringVar(&flagOrgID, "organization", "", "acting organization id")
	rootCmd.PersistentFlags().BoolVar(&flagSuperAdmin, "super-admin", false, "act as super-admin (skips tenant filter, not validation)")
	rootCmd.PersistentFlags().Int64SliceVar(&flagPracticeIDs, "practice-ids", nil, "accessible practice ids")
	rootCmd.PersistentFlags().StringSliceVar(&flagPermissions, "permissions", nil, "permission tokens, e.g. data-explorer:execute:organization")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("explorer %s\ncommit: %s\nbuilt: %s\n", Version, Commit, BuildDate)
	},
}

// runtime holds the wired pipeline and its pools for one CLI invocation
type runtime struct {
	cfg           *config.Config
	analyticsPool *pgxpool.Pool
	cataloguePool *pgxpool.Pool
	pipeline      *pipeline.Pipeline
	metadata      *metadata.Service
	executor      *analytics.Executor
	generator     *nlsql.Generator
}

// buildRuntime wires configuration, pools, caches, and the pipeline.
// withLLM controls whether the natural-language provider is created.
func buildRuntime(ctx context.Context, withLLM bool) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	analyticsPool, err := analytics.NewPool(ctx, cfg.Analytics, cfg.Explorer.PoolSize)
	if err != nil {
		return nil, err
	}

	cataloguePool, err := pgxpool.New(ctx, cfg.Catalogue.ConnectionString())
	if err != nil {
		analyticsPool.Close()
		return nil, fmt.Errorf("failed to connect to catalogue database: %w", err)
	}

	metrics := observability.NewMetrics()
	evaluator := authz.NewEvaluator()

	allowList := allowlist.NewCache(allowlist.NewCatalogueSource(cataloguePool), cfg.Explorer.AllowListTTL)
	store := metadata.NewPgStore(cataloguePool)
	metaService := metadata.NewService(store, evaluator, allowList)

	executor := analytics.NewExecutor(
		analyticsPool,
		cfg.Explorer.QueueTimeout,
		cfg.Explorer.QueryTimeout,
		cfg.Explorer.QueryTimeoutCeiling,
		metrics,
	)

	var generator *nlsql.Generator
	if withLLM {
		provider, err := nlsql.NewProvider(cfg.LLM)
		if err != nil {
			analyticsPool.Close()
			cataloguePool.Close()
			return nil, fmt.Errorf("failed to create LLM provider: %w", err)
		}
		generator = nlsql.NewGenerator(provider, metaService, cfg.LLM, cfg.Explorer.NLPromptMetadataLimit, metrics)
	}

	opts := pipeline.Options{
		Evaluator:    evaluator,
		AllowList:    allowList,
		Executor:     executor,
		Recorder:     audit.NewRecorder(nil),
		Metrics:      metrics,
		MaxRowCap:    cfg.Explorer.SystemMaxRowCap,
		QueryTimeout: cfg.Explorer.QueryTimeout,
	}
	if generator != nil {
		opts.Generator = generator
	}

	return &runtime{
		cfg:           cfg,
		analyticsPool: analyticsPool,
		cataloguePool: cataloguePool,
		pipeline:      pipeline.New(opts),
		metadata:      metaService,
		executor:      executor,
		generator:     generator,
	}, nil
}

// Close releases pools and the LLM provider
func (r *runtime) Close() {
	if r.generator != nil {
		_ = r.generator.Close()
	}
	r.analyticsPool.Close()
	r.cataloguePool.Close()
}

// callerFromFlags builds the caller context from the identity flags
func callerFromFlags() (*authz.CallerContext, error) {
	perms := make([]authz.Permission, 0, len(flagPermissions))
	for _, token := range flagPermissions {
		p, err := authz.ParsePermission(token)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}

	return &authz.CallerContext{
		UserID:                flagUserID,
		OrganizationID:        flagOrgID,
		IsSuperAdmin:          flagSuperAdmin,
		Permissions:           perms,
		AccessiblePracticeIDs: flagPracticeIDs,
	}, nil
}

// printJSON writes a value to stdout as indented JSON
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
