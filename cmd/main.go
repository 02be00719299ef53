package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/mediscan/mediscan-server/cmd/api"
	"github.com/mediscan/mediscan-server/cmd/config"
	"github.com/mediscan/mediscan-server/cmd/logging"
	"github.com/mediscan/mediscan-server/cmd/models"
	"github.com/mediscan/mediscan-server/db"
	"github.com/mediscan/mediscan-server/service/user"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "mediscan-server",
		Short:         "MediScan patient portal API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serve := serveCmd()
	rootCmd.RunE = serve.RunE

	rootCmd.AddCommand(serve, migrateCmd(), clearDBCmd(), createAdminCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withDB loads configuration, opens the database and closes it when fn
// returns.
func withDB(fn func(ctx context.Context, cfg *config.Config, gdb *gorm.DB, log zerolog.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(cfg.App.Env, cfg.App.LogLevel)

	gdb, err := db.NewPSQLStorage(*cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(gdb); err != nil {
			log.Warn().Err(err).Msg("closing database")
			return
		}
		log.Info().Msg("database connection closed")
	}()
	log.Info().Msg("connected to the database")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, cfg, gdb, log)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, cfg *config.Config, gdb *gorm.DB, log zerolog.Logger) error {
				if err := cfg.RequireServe(); err != nil {
					return err
				}
				server, err := api.NewApiServer(ctx, cfg, gdb, log)
				if err != nil {
					return err
				}
				return server.Run(ctx)
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables and the upload directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, cfg *config.Config, gdb *gorm.DB, log zerolog.Logger) error {
				log.Info().Msg("starting database migrations")
				if err := models.AutoMigrate(gdb.WithContext(ctx)); err != nil {
					return err
				}
				if cfg.Storage.Driver == "local" {
					if err := os.MkdirAll(cfg.Storage.LocalDir, 0755); err != nil {
						return fmt.Errorf("could not create directory %s: %w", cfg.Storage.LocalDir, err)
					}
					log.Info().Str("dir", cfg.Storage.LocalDir).Msg("upload directory created/verified")
				}
				log.Info().Msg("migrations completed successfully")
				return nil
			})
		},
	}
}

func clearDBCmd() *cobra.Command {
	var (
		yes    bool
		tables []string
	)
	cmd := &cobra.Command{
		Use:   "clear-db",
		Short: "Drop tables (all of them unless --tables is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := tablesByName(tables)
			if err != nil {
				return err
			}
			if !yes && !confirm(cmd, "Are you sure you want to clear the database? (yes/no): ") {
				fmt.Fprintln(cmd.OutOrStdout(), "Database clearing cancelled.")
				return nil
			}
			return withDB(func(ctx context.Context, _ *config.Config, gdb *gorm.DB, log zerolog.Logger) error {
				return clearDatabase(gdb.WithContext(ctx), targets, log)
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	cmd.Flags().StringSliceVar(&tables, "tables", nil, "comma separated table names to drop")
	return cmd
}

func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	return strings.TrimSpace(answer) == "yes"
}

// tablesByName resolves table names to models, in reverse dependency order
// so foreign keys never block a drop.
func tablesByName(names []string) ([]interface{}, error) {
	all := models.All()
	ordered := make([]interface{}, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		ordered = append(ordered, all[i])
	}
	if len(names) == 0 {
		return ordered, nil
	}

	wanted := map[string]bool{}
	for _, n := range names {
		wanted[strings.TrimSpace(n)] = true
	}
	var out []interface{}
	for _, m := range ordered {
		name := models.TableName(m)
		if wanted[name] {
			out = append(out, m)
			delete(wanted, name)
		}
	}
	for n := range wanted {
		return nil, fmt.Errorf("unknown table: %s", n)
	}
	return out, nil
}

func clearDatabase(gdb *gorm.DB, tables []interface{}, log zerolog.Logger) error {
	log.Info().Int("tables", len(tables)).Msg("dropping tables")
	for _, table := range tables {
		if err := gdb.Migrator().DropTable(table); err != nil {
			log.Warn().Err(err).Str("table", models.TableName(table)).Msg("dropping table")
			continue
		}
		log.Info().Str("table", models.TableName(table)).Msg("table dropped")
	}
	log.Info().Msg("database cleared successfully")
	return nil
}

func createAdminCmd() *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create a verified admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, _ *config.Config, gdb *gorm.DB, log zerolog.Logger) error {
				admin, err := user.CreateAdmin(ctx, gdb, email, password, name)
				if err != nil {
					return err
				}
				log.Info().Str("user_id", admin.ID.String()).Str("email", admin.Email).Msg("admin created")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email address")
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
