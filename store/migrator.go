package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/lumichat/internal/version"
)

// Fresh databases get LATEST.sql and its schema version recorded under
// system_setting "schema_version". In prod, incremental scripts stored as
// migration/{driver}/{minor}/NN__description.sql are then applied up to the
// current version; script NN of minor X.Y produces schema version X.Y.(NN+1).

//go:embed migration
var migrationFS embed.FS

const (
	// MigrateFileNameSplit separates the patch number from the description, as in "00__create_table.sql".
	MigrateFileNameSplit = "__"
	// LatestSchemaFileName holds the full schema used for fresh installations.
	LatestSchemaFileName = "LATEST.sql"

	modeProd = "prod"
)

type migrationScript struct {
	path    string
	version string
}

// shouldApplyMigration reports whether a script producing fileVersion lies in (currentDBVersion, targetVersion].
func shouldApplyMigration(fileVersion, currentDBVersion, targetVersion string) bool {
	return version.IsVersionGreaterThan(fileVersion, currentDBVersion) &&
		version.IsVersionGreaterOrEqualThan(targetVersion, fileVersion)
}

func validateMigrationFileName(filename string) error {
	patch, _, found := strings.Cut(filename, MigrateFileNameSplit)
	if !found {
		return errors.Errorf("invalid migration filename format (missing %s): %s", MigrateFileNameSplit, filename)
	}
	if _, err := strconv.Atoi(patch); err != nil {
		return errors.Errorf("migration filename must start with a number: %s", filename)
	}
	return nil
}

// Migrate migrates the database schema to the latest version.
// Fresh databases get LATEST.sql in every mode; incremental migrations only run in prod.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.preMigrate(ctx); err != nil {
		return errors.Wrap(err, "failed to pre-migrate")
	}

	if s.profile.Mode != modeProd {
		return nil
	}

	databaseSchemaVersion, err := s.GetSchemaVersion(ctx)
	if err != nil {
		return err
	}
	if databaseSchemaVersion == "" {
		return errors.New("database is initialized but has no recorded schema version")
	}
	currentSchemaVersion, err := s.GetCurrentSchemaVersion()
	if err != nil {
		return errors.Wrap(err, "failed to get current schema version")
	}
	if version.IsVersionGreaterThan(databaseSchemaVersion, currentSchemaVersion) {
		return errors.Errorf("cannot downgrade schema version from %s to %s", databaseSchemaVersion, currentSchemaVersion)
	}
	if version.IsVersionGreaterThan(currentSchemaVersion, databaseSchemaVersion) {
		if err := s.applyMigrations(ctx, databaseSchemaVersion, currentSchemaVersion); err != nil {
			return errors.Wrap(err, "failed to apply migrations")
		}
	}
	return nil
}

// applyMigrations runs every script in (currentSchemaVersion, targetSchemaVersion] in one transaction.
func (s *Store) applyMigrations(ctx context.Context, currentSchemaVersion, targetSchemaVersion string) error {
	scripts, err := s.listMigrationScripts("*")
	if err != nil {
		return err
	}

	tx, err := s.driver.GetDB().Begin()
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	slog.Info("start migration",
		slog.String("currentSchemaVersion", currentSchemaVersion),
		slog.String("targetSchemaVersion", targetSchemaVersion))

	applied := 0
	for _, script := range scripts {
		if !shouldApplyMigration(script.version, currentSchemaVersion, targetSchemaVersion) {
			continue
		}
		slog.Info("applying migration", slog.String("file", script.path), slog.String("version", script.version))
		bytes, err := migrationFS.ReadFile(script.path)
		if err != nil {
			return errors.Wrapf(err, "failed to read migration file: %s", script.path)
		}
		if err := s.execute(ctx, tx, string(bytes)); err != nil {
			return errors.Wrapf(err, "failed to execute migration %s", script.path)
		}
		applied++
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit migration transaction")
	}
	slog.Info("migration completed", slog.Int("migrationsApplied", applied))

	return s.updateCurrentSchemaVersion(ctx, targetSchemaVersion)
}

// preMigrate applies the latest schema when the database is not initialized.
func (s *Store) preMigrate(ctx context.Context) error {
	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check if database is initialized")
	}
	if initialized {
		return nil
	}

	filePath := s.getMigrationBasePath() + LatestSchemaFileName
	bytes, err := migrationFS.ReadFile(filePath)
	if err != nil {
		return errors.Wrap(err, "failed to read latest schema file")
	}
	tx, err := s.driver.GetDB().Begin()
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()
	slog.Info("initializing new database with latest schema", slog.String("file", filePath))
	if err := s.execute(ctx, tx, string(bytes)); err != nil {
		return errors.Wrapf(err, "failed to execute SQL file %s", filePath)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	schemaVersion, err := s.GetCurrentSchemaVersion()
	if err != nil {
		return errors.Wrap(err, "failed to get current schema version")
	}
	slog.Info("database initialized successfully", slog.String("schemaVersion", schemaVersion))
	return s.updateCurrentSchemaVersion(ctx, schemaVersion)
}

func (s *Store) getMigrationBasePath() string {
	return fmt.Sprintf("migration/%s/", s.profile.Driver)
}

// GetCurrentSchemaVersion returns the schema version this build migrates to:
// the version of the newest script for the current minor, or "X.Y.0" when there is none.
func (s *Store) GetCurrentSchemaVersion() (string, error) {
	minorVersion := version.GetMinorVersion(version.GetCurrentVersion(s.profile.Mode))
	scripts, err := s.listMigrationScripts(minorVersion)
	if err != nil {
		return "", err
	}
	if len(scripts) == 0 {
		return minorVersion + ".0", nil
	}
	return scripts[len(scripts)-1].version, nil
}

// listMigrationScripts returns the driver's scripts under the minor directory glob, ordered by the version they produce.
func (s *Store) listMigrationScripts(minorGlob string) ([]migrationScript, error) {
	filePaths, err := fs.Glob(migrationFS, fmt.Sprintf("%s%s/*.sql", s.getMigrationBasePath(), minorGlob))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read migration files")
	}

	byVersion := make(map[string]string, len(filePaths))
	versions := make(version.SortVersion, 0, len(filePaths))
	for _, filePath := range filePaths {
		v, err := s.getSchemaVersionOfMigrateScript(filePath)
		if err != nil {
			return nil, err
		}
		if other, ok := byVersion[v]; ok {
			return nil, errors.Errorf("migrations %s and %s both produce schema version %s", other, filePath, v)
		}
		byVersion[v] = filePath
		versions = append(versions, v)
	}
	sort.Sort(versions)

	scripts := make([]migrationScript, len(versions))
	for i, v := range versions {
		scripts[i] = migrationScript{path: byVersion[v], version: v}
	}
	return scripts, nil
}

// getSchemaVersionOfMigrateScript returns the "major.minor.patch" version a script produces.
func (s *Store) getSchemaVersionOfMigrateScript(filePath string) (string, error) {
	dir, filename := path.Split(filePath)
	if err := validateMigrationFileName(filename); err != nil {
		return "", err
	}
	minorVersion := path.Base(dir)
	if version.GetMinorVersion(minorVersion+".0") != minorVersion {
		return "", errors.Errorf("migration %s is not under a minor version directory", filePath)
	}
	rawPatchVersion, _, _ := strings.Cut(filename, MigrateFileNameSplit)
	patchVersion, _ := strconv.Atoi(rawPatchVersion)
	return fmt.Sprintf("%s.%d", minorVersion, patchVersion+1), nil
}

// execute runs a schema script. PostgreSQL rejects multiple statements per
// ExecContext call, so its scripts are split first.
func (s *Store) execute(ctx context.Context, tx *sql.Tx, script string) error {
	if s.profile.Driver != "postgres" {
		if _, err := tx.ExecContext(ctx, script); err != nil {
			return errors.Wrap(err, "failed to execute statement")
		}
		return nil
	}
	for i, stmt := range splitSQL(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to execute statement %d: %s", i+1, stmt)
		}
	}
	return nil
}

// splitSQL splits a script on top-level semicolons. Comments are dropped;
// single-quoted strings and dollar-quoted bodies are kept intact.
func splitSQL(script string) []string {
	var (
		statements []string
		current    strings.Builder
		// quote is the closing delimiter of the literal being read, if any.
		quote string
	)
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for i := 0; i < len(script); {
		rest := script[i:]
		switch {
		case quote != "":
			if strings.HasPrefix(rest, quote) {
				current.WriteString(quote)
				i += len(quote)
				quote = ""
				continue
			}
		case strings.HasPrefix(rest, "--"):
			end := strings.IndexByte(rest, '\n')
			if end < 0 {
				end = len(rest)
			}
			i += end
			continue
		case strings.HasPrefix(rest, "/*"):
			end := strings.Index(rest[2:], "*/")
			if end < 0 {
				i = len(script)
			} else {
				i += end + 4
			}
			continue
		case rest[0] == '\'':
			quote = "'"
		case rest[0] == '$':
			if end := strings.IndexByte(rest[1:], '$'); end >= 0 && isDollarQuoteTag(rest[1:end+1]) {
				quote = rest[:end+2]
				current.WriteString(quote)
				i += len(quote)
				continue
			}
		case rest[0] == ';':
			current.WriteByte(';')
			flush()
			i++
			continue
		}
		current.WriteByte(script[i])
		i++
	}
	flush()
	return statements
}

func isDollarQuoteTag(tag string) bool {
	for i, r := range tag {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// updateCurrentSchemaVersion records the schema version in system_setting.
func (s *Store) updateCurrentSchemaVersion(ctx context.Context, schemaVersion string) error {
	if _, err := s.UpsertSystemSetting(ctx, &SystemSetting{
		Name:        SystemSettingSchemaVersionName,
		Value:       schemaVersion,
		Description: "database schema version",
	}); err != nil {
		return errors.Wrap(err, "failed to upsert schema version setting")
	}
	return nil
}
