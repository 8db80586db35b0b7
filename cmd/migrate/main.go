package main

import (
	"context"
	"crypto/sha256"
	"embed"
	"flag"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-assistant/internal/config"
	"github.com/dvloznov/finance-assistant/internal/logger"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

//go:embed migrations/bigquery/*.sql
var embedded embed.FS

const migrationsRoot = "migrations/bigquery"

// Pattern to match migration files: 0001_name.sql
var filenamePattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

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

func main() {
	log := logger.New()
	cfg := config.Load(log)

	var (
		projectID = flag.String("project", cfg.BQProject, "GCP project ID (or set BQ_PROJECT env)")
		datasetID = flag.String("dataset", cfg.BQDataset, "BigQuery dataset ID (or set BQ_DATASET env)")
		appliedBy = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
		dryRun    = flag.Bool("dry-run", false, "List pending migrations without applying them")
	)
	flag.Parse()

	if *projectID == "" {
		log.Fatal().Msg("Error: -project flag is required. Please specify your GCP project ID.")
	}

	migrations, err := readMigrations(embedded, *projectID, *datasetID, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}
	log.Info().Int("count", len(migrations)).Msg("Found migration files")

	ctx := context.Background()
	client, err := bigquery.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer client.Close()

	m := &migrator{
		client:    client,
		projectID: *projectID,
		datasetID: *datasetID,
		appliedBy: *appliedBy,
	}

	if err := m.ensureSchemaMigrationsTable(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure schema_migrations table")
	}

	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get applied migrations")
	}
	log.Info().Int("count", len(applied)).Msg("Found already applied migrations")

	pending := pendingMigrations(migrations, applied, log)
	if *dryRun {
		for _, mig := range pending {
			fmt.Printf("%04d_%s\n", mig.Version, mig.Name)
		}
		return
	}

	for _, mig := range pending {
		log.Info().Msgf("  [RUN]  %04d_%s", mig.Version, mig.Name)

		if err := m.run(ctx, mig.SQL, nil); err != nil {
			log.Fatal().Err(err).Msgf("Failed to execute migration %04d_%s", mig.Version, mig.Name)
		}
		if err := m.record(ctx, mig); err != nil {
			log.Fatal().Err(err).Msgf("Failed to record migration %04d_%s", mig.Version, mig.Name)
		}

		log.Info().Msgf("  [OK]   %04d_%s", mig.Version, mig.Name)
	}

	if len(pending) == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("count", len(pending)).Msg("Successfully applied migrations")
	}
}

// readMigrations parses every NNNN_name.sql file under migrationsRoot in
// fsys, substitutes the project and dataset placeholders and returns the
// migrations ordered by version.
func readMigrations(fsys fs.FS, projectID, datasetID string, log zerolog.Logger) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsRoot)
	if err != nil {
		return nil, fmt.Errorf("readMigrations: reading %s: %w", migrationsRoot, err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		matches := filenamePattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			log.Warn().Str("file", entry.Name()).Msg("Skipping file with invalid format")
			continue
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil {
			log.Warn().Str("file", entry.Name()).Msg("Skipping file with invalid version")
			continue
		}
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("readMigrations: version %04d used by %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, path.Join(migrationsRoot, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("readMigrations: reading %s: %w", entry.Name(), err)
		}

		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", projectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", datasetID)

		// Checksum the template, not the rendered SQL, so the same migration
		// matches across projects.
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

// pendingMigrations returns the migrations whose version has not been
// applied. An applied migration whose file changed since is logged and
// skipped.
func pendingMigrations(all []Migration, applied []AppliedMigration, log zerolog.Logger) []Migration {
	done := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		done[am.Version] = am
	}

	var pending []Migration
	for _, mig := range all {
		am, ok := done[mig.Version]
		if !ok {
			pending = append(pending, mig)
			continue
		}
		if am.Checksum != "" && am.Checksum != mig.Checksum {
			log.Warn().Msgf("  [DRIFT] %04d_%s changed after it was applied", mig.Version, mig.Name)
			continue
		}
		log.Info().Msgf("  [SKIP] %04d_%s (already applied)", mig.Version, mig.Name)
	}
	return pending
}

type migrator struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	appliedBy string
}

func (m *migrator) table() string {
	return fmt.Sprintf("`%s.%s.schema_migrations`", m.projectID, m.datasetID)
}

// ensureSchemaMigrationsTable creates the schema_migrations table if it doesn't exist
func (m *migrator) ensureSchemaMigrationsTable(ctx context.Context) error {
	sql := `
		CREATE TABLE IF NOT EXISTS ` + m.table() + ` (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`
	return m.run(ctx, sql, nil)
}

func (m *migrator) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	sql := `
		SELECT version, name, applied_at, checksum, applied_by
		FROM ` + m.table() + `
		ORDER BY version ASC
	`

	it, err := m.client.Query(sql).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}

		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}

		am := AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
		}
		if row.Checksum.Valid {
			am.Checksum = row.Checksum.StringVal
		}
		if row.AppliedBy.Valid {
			am.AppliedBy = row.AppliedBy.StringVal
		}
		applied = append(applied, am)
	}
	return applied, nil
}

func (m *migrator) record(ctx context.Context, mig Migration) error {
	sql := `
		INSERT INTO ` + m.table() + `
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`
	return m.run(ctx, sql, []bigquery.QueryParameter{
		{Name: "version", Value: mig.Version},
		{Name: "name", Value: mig.Name},
		{Name: "checksum", Value: mig.Checksum},
		{Name: "applied_by", Value: m.appliedBy},
	})
}

func (m *migrator) run(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	query := m.client.Query(sql)
	query.Parameters = params

	job, err := query.Run(ctx)
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
