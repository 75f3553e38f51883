// Command authz-admin runs maintenance tasks against the authorization
// database: schema migrations and default-role reconciliation.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/alanvitalp/road-to-next/pkg/observability"
	"github.com/alanvitalp/road-to-next/pkg/rbac"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	var (
		dbURL   = flag.String("db", os.Getenv("AUTHZ_POSTGRES_URL"), "Postgres connection URL")
		timeout = flag.Duration("timeout", 5*time.Minute, "operation timeout")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Usage = usage
	flag.Parse()

	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	if *dbURL == "" {
		log.Fatal("database URL required (-db or AUTHZ_POSTGRES_URL)")
	}

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.WithError(err).Fatal("database not reachable")
	}

	switch cmd := flag.Arg(0); cmd {
	case "migrate":
		if err := rbac.RunMigrations(ctx, db); err != nil {
			log.WithError(err).Fatal("migrations failed")
		}
		log.Info("migrations applied")

	case "reconcile":
		logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
		seeder := rbac.NewSeeder(rbac.NewStore(db), logger)
		if err := seeder.Reconcile(ctx); err != nil {
			log.WithError(err).Fatal("reconciliation failed")
		}
		log.Info("default roles reconciled")

	default:
		log.Errorf("unknown command %q", cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: authz-admin [flags] <command>

Commands:
  migrate    apply pending schema migrations
  reconcile  create missing default roles and backfill role-less memberships

Flags:
`)
	flag.PrintDefaults()
}
