// Package main is the entrypoint for the component runtime.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/component-runtime/internal/config"
	"github.com/morezero/component-runtime/internal/server"
	"github.com/morezero/component-runtime/pkg/catalog"
	"github.com/morezero/component-runtime/pkg/db"
	"github.com/morezero/component-runtime/pkg/deploy"
)

const usage = `Usage: componentrt [command]
       componentrt serve                      Start the runtime (deployment, proxies, HTTP health).
       componentrt migrate up                 Run database migrations.
       componentrt migrate down               Revert the last applied migration (needs a down section).
       componentrt migrate status             Show migration status.
       componentrt ensure-db [name]           Create database if missing (default name: componentrt_test).
       componentrt clear                      Truncate the endpoint catalog; schema is preserved.
       componentrt endpoints                  List catalog endpoints stored in Postgres.
       componentrt endpoints status ID STATUS [healthy]
                                              Set an endpoint to active, draining or disabled.
       componentrt deployment [file]          Print the effective deployment as YAML.

Commands:
  serve           (default) Start the runtime.
  migrate         Database migrations for the Postgres catalog.
  ensure-db       Create a database on the same host as DATABASE_URL.
  clear           Remove every catalog endpoint.
  endpoints       Inspect or update the Postgres catalog.
  deployment      Load and validate a deployment file, then print it.

Environment: DATABASE_URL, CATALOG_STORE (memory|postgres|remote), CATALOG_SUBJECT, COMMS_URL, DEPLOYMENT_FILE,
MIGRATION_PATH, HTTP_ADDR (default :8080), PROXY_PACKET_SIZE, PROXY_CALL_TIMEOUT, LOG_LEVEL.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("componentrt migrate: require subcommand (up, down, status)")
		}
		sub := args[1]
		var err error
		switch sub {
		case "up":
			err = withPool(runMigrateUp)
		case "status":
			err = withPool(runMigrateStatus)
		case "down":
			err = withPool(runMigrateDown)
		default:
			log.Fatalf("componentrt migrate: unknown subcommand %q (use up, down, status)", sub)
		}
		if err != nil {
			log.Fatalf("componentrt migrate %s: %v", sub, err)
		}
		return
	case "clear":
		err := withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
			return db.ClearCatalog(ctx, pool)
		})
		if err != nil {
			log.Fatalf("componentrt clear: %v", err)
		}
		return
	case "endpoints":
		if err := runEndpoints(args[1:]); err != nil {
			log.Fatalf("componentrt endpoints: %v", err)
		}
		return
	case "ensure-db":
		dbName := "componentrt_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("componentrt ensure-db: %v", err)
		}
		return
	case "deployment":
		file := ""
		if len(args) > 1 {
			file = args[1]
		}
		if err := runDeployment(file); err != nil {
			log.Fatalf("componentrt deployment: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("componentrt: %v", err)
	}
}

// withPool loads config, opens the database and runs fn.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2, ApplicationName: cfg.COMMSName + "-cli"})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func runMigrateUp(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
	migrations, err := db.LoadMigrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	n, err := db.RunMigrations(ctx, pool, migrations)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	fmt.Printf("Applied %d migration(s).\n", n)
	return nil
}

func runMigrateStatus(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
	migrations, err := db.LoadMigrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	report, err := db.MigrationStatus(ctx, pool, migrations)
	if err != nil {
		return err
	}
	printMigrationReport(os.Stdout, cfg.MigrationPath, report)
	return nil
}

func printMigrationReport(out io.Writer, dir string, report *db.MigrationReport) {
	fmt.Fprintf(out, "Migrations in %s: %d applied, %d pending\n", dir, len(report.Applied), len(report.Pending))
	for _, v := range report.Applied {
		fmt.Fprintf(out, "  applied  %04d\n", v)
	}
	for _, m := range report.Pending {
		fmt.Fprintf(out, "  pending  %04d_%s\n", m.Version, m.Name)
	}
}

func runMigrateDown(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
	migrations, err := db.LoadMigrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := db.MigrationDown(ctx, pool, migrations)
	if errors.Is(err, db.ErrNothingApplied) {
		fmt.Println("Nothing to revert.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Reverted %04d_%s.\n", m.Version, m.Name)
	return nil
}

func runEndpoints(args []string) error {
	return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
		cat := catalog.NewCatalog(catalog.NewCatalogParams{Store: catalog.NewPostgresStore(db.NewRepository(pool))})
		if len(args) > 0 && args[0] == "status" {
			id, status, healthy, err := parseStatusArgs(args[1:])
			if err != nil {
				return err
			}
			e, err := cat.SetStatus(ctx, id, status, healthy)
			if err != nil {
				return err
			}
			fmt.Printf("%s.%s %s://%s is %s (revision %d)\n", e.Component, e.Interface, e.Transport, e.Address, e.Status, e.Revision)
			return nil
		}
		list, err := cat.List(ctx, &catalog.ListInput{Status: "all"})
		if err != nil {
			return err
		}
		printEndpoints(os.Stdout, list)
		return nil
	})
}

// parseStatusArgs reads "ID STATUS [healthy]"; healthy defaults to true.
func parseStatusArgs(args []string) (id, status string, healthy bool, err error) {
	if len(args) < 2 {
		return "", "", false, fmt.Errorf("status requires ID and STATUS")
	}
	healthy = true
	if len(args) > 2 {
		if healthy, err = strconv.ParseBool(args[2]); err != nil {
			return "", "", false, fmt.Errorf("healthy must be true or false: %w", err)
		}
	}
	return args[0], args[1], healthy, nil
}

func printEndpoints(out io.Writer, list []catalog.Endpoint) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCOMPONENT\tINTERFACE\tTRANSPORT\tADDRESS\tVERSION\tSTATUS\tHEALTHY\tREVISION")
	for _, e := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\t%d\n",
			e.ID, e.Component, e.Interface, e.Transport, e.Address, e.Version, e.Status, e.Healthy, e.Revision)
	}
	tw.Flush()
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	target, err := db.WithDatabase(cfg.DatabaseURL, dbName)
	if err != nil {
		return err
	}
	if err := db.EnsureDatabase(context.Background(), target); err != nil {
		return err
	}
	fmt.Printf("Database %q is ready.\n", dbName)
	return nil
}

func runDeployment(file string) error {
	if file == "" {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		file = cfg.DeploymentFile
	}
	dep, err := deploy.Load(file)
	if err != nil {
		return err
	}
	if err := dep.Validate(); err != nil {
		return err
	}
	data, err := deploy.Marshal(dep)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}
