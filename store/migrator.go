package store

import (
	"context"
	"embed"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/mod/semver"
)

// Migration System Overview:
//
// Schema version is stored in system_setting under SchemaVersionSettingName.
//
// Migration Flow:
// 1. Fresh database: apply LATEST.sql and record the newest version found
//    under the driver's migration directory.
// 2. Existing database: apply every versioned directory newer than the
//    recorded version, files in lexicographic order, each file in its own
//    transaction, then record the new version.
//
// Migration Files:
// - Location: store/migration/{driver}/{version}/NN__description.sql
// - LATEST.sql: full schema for new installations

//go:embed migration
var migrationFS embed.FS

const (
	// MigrateFileNameSplit is the split character between the patch number and the description in the migration file name.
	// For example, "01__create_table.sql".
	MigrateFileNameSplit = "__"
	// LatestSchemaFileName is the name of the latest schema file.
	LatestSchemaFileName = "LATEST.sql"
	// SchemaVersionSettingName is the system_setting row holding the schema version.
	SchemaVersionSettingName = "schema_version"

	// defaultSchemaVersion is used when no version has been recorded.
	defaultSchemaVersion = "0.0.0"
)

// Migrate migrates the database schema to the latest version.
func (s *Store) Migrate(ctx context.Context) error {
	driverName := s.profile.Driver
	versions, err := migrationVersions(driverName)
	if err != nil {
		return err
	}
	target := defaultSchemaVersion
	if len(versions) > 0 {
		target = versions[len(versions)-1]
	}

	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check if database is initialized")
	}
	if !initialized {
		latest, err := fs.ReadFile(migrationFS, path.Join("migration", driverName, LatestSchemaFileName))
		if err != nil {
			return errors.Wrapf(err, "failed to read latest schema for %s", driverName)
		}
		if err := s.execMigration(ctx, string(latest)); err != nil {
			return errors.Wrap(err, "failed to apply latest schema")
		}
		s.logger().Info("database initialized", "driver", driverName, "schema_version", target)
		return s.setSchemaVersion(ctx, target)
	}

	current, err := s.GetCurrentSchemaVersion(ctx)
	if err != nil {
		return err
	}
	for _, version := range versions {
		if !isVersionGreaterThan(version, current) {
			continue
		}
		files, err := migrationFiles(driverName, version)
		if err != nil {
			return err
		}
		for _, file := range files {
			stmt, err := fs.ReadFile(migrationFS, file)
			if err != nil {
				return errors.Wrapf(err, "failed to read migration %s", file)
			}
			if err := s.execMigration(ctx, string(stmt)); err != nil {
				return errors.Wrapf(err, "failed to apply migration %s", file)
			}
			s.logger().Info("migration applied", "file", file)
		}
		if err := s.setSchemaVersion(ctx, version); err != nil {
			return err
		}
		current = version
	}
	return nil
}

// GetCurrentSchemaVersion returns the recorded schema version.
func (s *Store) GetCurrentSchemaVersion(ctx context.Context) (string, error) {
	setting, err := s.driver.GetSystemSetting(ctx, &FindSystemSetting{Name: SchemaVersionSettingName})
	if err != nil {
		return "", errors.Wrap(err, "failed to get schema version")
	}
	if setting == nil || setting.Value == "" {
		return defaultSchemaVersion, nil
	}
	return setting.Value, nil
}

func (s *Store) setSchemaVersion(ctx context.Context, version string) error {
	_, err := s.driver.UpsertSystemSetting(ctx, &SystemSetting{Name: SchemaVersionSettingName, Value: version})
	return errors.Wrap(err, "failed to record schema version")
}

func (s *Store) execMigration(ctx context.Context, stmt string) error {
	tx, err := s.driver.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return err
	}
	return tx.Commit()
}

// migrationVersions lists the versioned directories of driverName in ascending order.
func migrationVersions(driverName string) ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, path.Join("migration", driverName))
	if err != nil {
		return nil, errors.Wrapf(err, "no migrations for driver %s", driverName)
	}
	versions := []string{}
	for _, entry := range entries {
		if entry.IsDir() && semver.IsValid("v"+entry.Name()) {
			versions = append(versions, entry.Name())
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		return semver.Compare("v"+versions[i], "v"+versions[j]) < 0
	})
	return versions, nil
}

func migrationFiles(driverName, version string) ([]string, error) {
	dir := path.Join("migration", driverName, version)
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read migration directory %s", dir)
	}
	files := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		if err := validateMigrationFileName(entry.Name()); err != nil {
			return nil, err
		}
		files = append(files, path.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// validateMigrationFileName checks if a migration file follows the expected naming convention.
// Expected format: "NN__description.sql" where NN is a zero-padded number.
func validateMigrationFileName(filename string) error {
	parts := strings.SplitN(filename, MigrateFileNameSplit, 2)
	if len(parts) < 2 {
		return errors.Errorf("invalid migration filename format (missing %s): %s", MigrateFileNameSplit, filename)
	}
	if _, err := strconv.Atoi(parts[0]); err != nil {
		return errors.Errorf("migration filename must start with a number: %s", filename)
	}
	return nil
}

func isVersionGreaterThan(version, target string) bool {
	return semver.Compare("v"+version, "v"+target) > 0
}
