package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lims/lims/internal/config"
	"github.com/lims/lims/internal/domain/account"
	"github.com/lims/lims/internal/domain/alerts"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/seed"
	"github.com/lims/lims/migrations"
	"github.com/lims/lims/pkg/limsclient"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "lims-server",
		Short:        "Laboratory information management API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(watchCmd())
	return rootCmd
}

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// env loads and validates the configuration and opens the database pool.
// The caller closes the pool.
func env(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func newIssuer(cfg *config.Config) (*auth.Issuer, error) {
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, err
	}
	return auth.NewIssuer(key, cfg.AuthIssuer, cfg.AuthTokenTTL), nil
}

func tenantFlag(cmd *cobra.Command, cfg *config.Config) string {
	tenant, _ := cmd.Flags().GetString("tenant")
	if tenant == "" {
		return cfg.DefaultTenant
	}
	return tenant
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the LIMS API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to a tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, pool, err := env(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(tenantFlag(cmd, cfg))
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := db.NewMigratorFS(pool, migrations.FS).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("tenant", "", "Tenant whose schema is migrated (default DEFAULT_TENANT)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, pool, err := env(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(tenantFlag(cmd, cfg))
			statuses, err := db.NewMigratorFS(pool, migrations.FS).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("tenant", "", "Tenant whose schema is inspected (default DEFAULT_TENANT)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply all migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if !db.ValidTenantID(name) {
				return fmt.Errorf("invalid tenant name %q: use letters, digits and _", name)
			}

			ctx := context.Background()
			_, pool, err := env(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Creating tenant schema: %s\n", db.SchemaName(name))
			if err := db.CreateTenantSchema(ctx, pool, name, db.NewMigratorFS(pool, migrations.FS)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (letters, digits, _)")
	cmd.AddCommand(createCmd)
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load reference masters and bootstrap users from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			if path == "" {
				return fmt.Errorf("--file is required")
			}
			file, err := seed.Load(path)
			if err != nil {
				return err
			}

			ctx := context.Background()
			cfg, pool, err := env(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			issuer, err := newIssuer(cfg)
			if err != nil {
				return err
			}

			seeder := newServices(pool, issuer).seeder(newLogger(cfg.IsDev()))
			var report *seed.Report
			err = alerts.PoolTenants(pool)(ctx, tenantFlag(cmd, cfg), func(ctx context.Context) error {
				return db.InTx(ctx, func(ctx context.Context) error {
					var err error
					report, err = seeder.Apply(ctx, file)
					return err
				})
			})
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().String("file", "", "Path to the seed YAML document")
	cmd.Flags().String("tenant", "", "Tenant to seed (default DEFAULT_TENANT)")
	return cmd
}

var seedSections = []string{"nodals", "hospitals", "kits", "investigations", "profiles", "users", "technicians"}

func printReport(w io.Writer, r *seed.Report) {
	fmt.Fprintf(w, "%-16s %8s %8s\n", "SECTION", "CREATED", "SKIPPED")
	for _, s := range seedSections {
		fmt.Fprintf(w, "%-16s %8d %8d\n", s, r.Created[s], r.Skipped[s])
	}
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage login accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a login account",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			role, _ := cmd.Flags().GetString("role")
			password, _ := cmd.Flags().GetString("password")
			displayName, _ := cmd.Flags().GetString("display-name")
			if username == "" || role == "" || password == "" {
				return fmt.Errorf("--username, --role and --password are required")
			}

			ctx := context.Background()
			cfg, pool, err := env(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			issuer, err := newIssuer(cfg)
			if err != nil {
				return err
			}

			svc := newServices(pool, issuer).account
			u := &account.User{Username: username, Role: role, DisplayName: displayName}
			err = alerts.PoolTenants(pool)(ctx, tenantFlag(cmd, cfg), func(ctx context.Context) error {
				return svc.CreateUser(ctx, u, password)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s user %s (%s)\n", u.Role, u.Username, u.ID)
			return nil
		},
	}
	createCmd.Flags().String("username", "", "Login name")
	createCmd.Flags().String("role", "", "One of admin, phlebotomist, reception, doctor, technician")
	createCmd.Flags().String("password", "", "Initial password")
	createCmd.Flags().String("display-name", "", "Name shown in the UI")
	createCmd.Flags().String("tenant", "", "Tenant the account belongs to (default DEFAULT_TENANT)")
	cmd.AddCommand(createCmd)
	return cmd
}

// watchCmd follows a running server's result or rejection feed and prints
// each new item.
func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print new result or rejection alerts from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			tenant, _ := cmd.Flags().GetString("tenant")
			kind, _ := cmd.Flags().GetString("kind")
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			lookback, _ := cmd.Flags().GetDuration("since")
			interval, _ := cmd.Flags().GetDuration("interval")
			if kind != limsclient.KindResults && kind != limsclient.KindRejections {
				return fmt.Errorf("--kind must be results or rejections")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client := limsclient.New(server, tenant)
			if username != "" {
				if _, err := client.Login(ctx, username, password); err != nil {
					return fmt.Errorf("login: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).With().Timestamp().Logger()
			poller := limsclient.NewPoller(client, kind, time.Now().Add(-lookback), interval, func(it limsclient.Item) {
				printItem(out, it)
			}, logger)
			return poller.Run(ctx)
		},
	}
	cmd.Flags().String("server", "http://localhost:8000", "Base URL of the LIMS server")
	cmd.Flags().String("tenant", "", "Tenant header sent with every request")
	cmd.Flags().String("kind", limsclient.KindResults, "Feed to follow: results or rejections")
	cmd.Flags().String("username", "", "Login name; omit against a development server")
	cmd.Flags().String("password", "", "Password for --username")
	cmd.Flags().Duration("since", time.Hour, "How far back the first poll reaches")
	cmd.Flags().Duration("interval", limsclient.DefaultPollInterval, "Poll interval")
	return cmd
}

func printItem(w io.Writer, it limsclient.Item) {
	line := fmt.Sprintf("%s  %-10s %-9s %-20s %s", it.At.Local().Format("2006-01-02 15:04:05"), it.Kind, it.Status, it.Barcode, it.PatientName)
	if it.Reason != "" {
		line += "  (" + it.Reason + ")"
	}
	fmt.Fprintln(w, line)
}
