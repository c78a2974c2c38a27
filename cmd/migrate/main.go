package main

import (
	"context"
	"crypto/sha256"
	"embed"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finance-companion/internal/config"
	"github.com/dvloznov/finance-companion/internal/logger"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// Migration files are named 0001_name.sql.
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// target is the dataset migrations run against.
type target struct {
	projectID string
	datasetID string
	appliedBy string
}

func (t target) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", t.projectID, t.datasetID, name)
}

func main() {
	var (
		envFile   = flag.String("env", config.DefaultEnvFile, "Optional .env file")
		projectID = flag.String("project", "", "GCP project ID (defaults to BQ_PROJECT_ID)")
		datasetID = flag.String("dataset", "", "BigQuery dataset ID (defaults to BQ_DATASET)")
		appliedBy = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
		dir       = flag.String("migrations", "", "Read migrations from this directory instead of the built-in set")
	)
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	t := target{projectID: *projectID, datasetID: *datasetID, appliedBy: *appliedBy}
	if t.projectID == "" {
		t.projectID = cfg.BQProjectID
	}
	if t.datasetID == "" {
		t.datasetID = cfg.BQDataset
	}
	if t.projectID == "" {
		log.Fatal().Msg("No project: set -project or BQ_PROJECT_ID")
	}

	var fsys fs.FS
	if *dir != "" {
		fsys = os.DirFS(*dir)
	} else {
		fsys, _ = fs.Sub(embedded, "migrations")
	}

	ctx := context.Background()

	client, err := bigquery.NewClient(ctx, t.projectID, cfg.GoogleOptions()...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer client.Close()

	log.Info().Str("project", t.projectID).Str("dataset", t.datasetID).Msg("Connected to BigQuery")

	if err := migrate(ctx, client, fsys, t, log); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

func migrate(ctx context.Context, client *bigquery.Client, fsys fs.FS, t target, log zerolog.Logger) error {
	// Ensure schema_migrations table exists
	if err := runQuery(ctx, client.Query(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, t.table("schema_migrations")))); err != nil {
		return fmt.Errorf("migrate: ensure schema_migrations: %w", err)
	}

	migrations, err := readMigrations(fsys, t, log)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info().Int("count", len(migrations)).Msg("Found migration files")

	applied, err := getAppliedMigrations(ctx, client, t)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	pending, err := pendingMigrations(migrations, applied)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if len(pending) == 0 {
		log.Info().Msg("No new migrations to apply. Dataset is up to date.")
		return nil
	}

	for _, m := range pending {
		mlog := log.With().Int("version", m.Version).Str("name", m.Name).Logger()
		mlog.Info().Msg("Applying migration")

		if err := runQuery(ctx, client.Query(m.SQL)); err != nil {
			return fmt.Errorf("migrate: execute %s: %w", m.Filename, err)
		}
		if err := recordMigration(ctx, client, t, m); err != nil {
			return fmt.Errorf("migrate: record %s: %w", m.Filename, err)
		}

		mlog.Info().Msg("Migration applied")
	}

	log.Info().Int("applied", len(pending)).Msg("Migrations complete")
	return nil
}

// readMigrations reads every migration file in fsys, in version order, with
// the project and dataset placeholders substituted.
func readMigrations(fsys fs.FS, t target, log zerolog.Logger) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("readMigrations: read directory: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		matches := migrationPattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			log.Warn().Str("file", entry.Name()).Msg("Skipping file with invalid name")
			continue
		}

		version, _ := strconv.Atoi(matches[1])
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("readMigrations: version %04d used by %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("readMigrations: read %s: %w", entry.Name(), err)
		}

		// The checksum covers the file before substitution so it does not
		// depend on the target dataset.
		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", t.projectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", t.datasetID)

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     matches[2],
			Filename: entry.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// pendingMigrations returns the migrations not yet applied. An applied
// migration whose file has since changed is an error.
func pendingMigrations(migrations []Migration, applied []AppliedMigration) ([]Migration, error) {
	checksums := make(map[int]string, len(applied))
	for _, am := range applied {
		checksums[am.Version] = am.Checksum
	}

	var pending []Migration
	for _, m := range migrations {
		sum, ok := checksums[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if sum != "" && sum != m.Checksum {
			return nil, fmt.Errorf("pendingMigrations: %s changed after it was applied", m.Filename)
		}
	}
	return pending, nil
}

// getAppliedMigrations retrieves the list of already applied migrations
func getAppliedMigrations(ctx context.Context, client *bigquery.Client, t target) ([]AppliedMigration, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC
	`, t.table("schema_migrations")))

	it, err := q.Read(ctx)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getAppliedMigrations: read: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time           `bigquery:"applied_at"`
			Checksum  bigquery.NullString `bigquery:"checksum"`
			AppliedBy bigquery.NullString `bigquery:"applied_by"`
		}

		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("getAppliedMigrations: iterate: %w", err)
		}

		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}

	return applied, nil
}

// recordMigration records a successfully applied migration in schema_migrations
func recordMigration(ctx context.Context, client *bigquery.Client, t target, m Migration) error {
	q := client.Query(fmt.Sprintf(`
		INSERT INTO %s
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, t.table("schema_migrations")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: t.appliedBy},
	}
	return runQuery(ctx, q)
}

// runQuery runs a statement and waits for it to finish.
func runQuery(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}

	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
