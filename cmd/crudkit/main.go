// Command crudkit runs the generic record CRUD service.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/crudkit/internal/api"
	"github.com/fluxbase-eu/crudkit/internal/collection"
	"github.com/fluxbase-eu/crudkit/internal/config"
	"github.com/fluxbase-eu/crudkit/internal/crud"
	"github.com/fluxbase-eu/crudkit/internal/observability"
	"github.com/fluxbase-eu/crudkit/internal/store"
	"github.com/fluxbase-eu/crudkit/internal/store/memory"
	"github.com/fluxbase-eu/crudkit/internal/store/postgres"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "crudkit",
	Short: "Generic record CRUD service",
	Long: `crudkit exposes configured record collections over a RESTful CRUD
surface: query-string filters, sorting, relation includes, offset and
cursor pagination, bulk writes and soft delete.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.AddCommand(serveCmd)
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func buildRegistry(cfg *config.Config) (*collection.Registry, error) {
	registry := collection.NewRegistry()
	for _, cc := range cfg.Collections {
		relations := make(map[string]collection.Relation, len(cc.Relations))
		for _, rc := range cc.Relations {
			relations[rc.Name] = collection.Relation{
				Target:     rc.Target,
				LocalKey:   rc.LocalKey,
				ForeignKey: rc.ForeignKey,
				HasMany:    rc.HasMany,
			}
		}
		col := &collection.Collection{
			Name:             cc.Name,
			PrimaryKey:       cc.PrimaryKey,
			Columns:          cc.Columns,
			Filterable:       cc.Filterable,
			Sortable:         cc.Sortable,
			Includable:       cc.Includable,
			Excluded:         cc.Excluded,
			Hidden:           cc.Hidden,
			SoftDelete:       cc.SoftDelete,
			SoftDeleteColumn: cc.SoftDeleteColumn,
			DefaultPageSize:  cc.DefaultPageSize,
			Relations:        relations,
		}
		if err := registry.Register(col); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Logging)

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	if len(cfg.Collections) == 0 {
		log.Warn().Msg("No collections configured; the API will serve nothing")
	}

	var st store.Store
	if cfg.Database.URL != "" {
		pg, err := postgres.Connect(cmd.Context(), cfg.Database, registry)
		if err != nil {
			return err
		}
		defer pg.Close()
		st = pg
		log.Info().Bool("replica", pg.Capabilities().ReplicatedReads).Msg("Using postgres store")
	} else {
		st = memory.New(registry)
		log.Warn().Msg("No database URL configured; using the in-memory store")
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(promRegistry)

	orch := crud.New(st, cfg.API, crud.WithMetrics(metrics))

	resources := make(map[string]*crud.Resource, len(cfg.Collections))
	for _, name := range registry.Names() {
		col, _ := registry.Get(name)
		resources[name] = &crud.Resource{Config: col}
	}

	app := api.NewApp(api.NewRecordHandler(orch, resources), promRegistry)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info().Str("addr", addr).Int("collections", len(resources)).Msg("Starting server")
	return app.Listen(addr)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("Fatal error")
		os.Exit(1)
	}
}
