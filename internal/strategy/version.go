package strategy

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is the current schema document version
const SchemaVersion = "1.1"

// SupportedSchemaVersions lists the versions Migrate can upgrade from
var SupportedSchemaVersions = []string{"1.0", "1.1"}

// MigrationFunc upgrades a document to the version it is registered under
type MigrationFunc func(*Document) error

// migrations maps a target version to the function that upgrades older documents to it
var migrations = map[string]MigrationFunc{
	"1.1": migrateRangeToOptBounds,
}

// migrateRangeToOptBounds rewrites the 1.0 range pair into opt_min/opt_max
func migrateRangeToOptBounds(doc *Document) error {
	for i := range doc.Parameters {
		p := &doc.Parameters[i]
		if len(p.Range) == 0 {
			continue
		}
		if len(p.Range) != 2 {
			return fmt.Errorf("parameter %s: range must have exactly two values, got %d", p.Name, len(p.Range))
		}
		low, high := p.Range[0], p.Range[1]
		if p.OptMin == nil {
			p.OptMin = &low
		}
		if p.OptMax == nil {
			p.OptMax = &high
		}
		p.Range = nil
	}
	return nil
}

// parseVersion accepts both "1.0" and "1.0.0"
func parseVersion(version string) (*semver.Version, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		v, err = semver.NewVersion(version + ".0")
		if err != nil {
			return nil, fmt.Errorf("invalid version: %s", version)
		}
	}
	return v, nil
}

// Migrate upgrades a document to the current schema version
func Migrate(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("document cannot be nil")
	}
	if doc.SchemaVersion == SchemaVersion {
		return nil
	}

	if err := CheckCompatibility(doc); err != nil {
		return err
	}

	path, err := GetMigrationPath(doc.SchemaVersion, SchemaVersion)
	if err != nil {
		return err
	}

	for _, version := range path {
		if err := migrations[version](doc); err != nil {
			return fmt.Errorf("migration to %s failed: %w", version, err)
		}
	}

	doc.SchemaVersion = SchemaVersion
	return nil
}

// GetMigrationPath returns the migration versions to apply, in ascending order,
// to move a document from one version to another
func GetMigrationPath(from, to string) ([]string, error) {
	fromV, err := parseVersion(from)
	if err != nil {
		return nil, fmt.Errorf("invalid from version: %w", err)
	}
	toV, err := parseVersion(to)
	if err != nil {
		return nil, fmt.Errorf("invalid to version: %w", err)
	}

	type step struct {
		name    string
		version *semver.Version
	}
	var steps []step
	for name := range migrations {
		v, err := parseVersion(name)
		if err != nil {
			continue
		}
		if v.GreaterThan(fromV) && !v.GreaterThan(toV) {
			steps = append(steps, step{name: name, version: v})
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].version.LessThan(steps[j].version) })

	path := make([]string, len(steps))
	for i, s := range steps {
		path[i] = s.name
	}
	return path, nil
}

// CheckCompatibility checks if a document can be migrated to the current version
func CheckCompatibility(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("document cannot be nil")
	}
	if doc.SchemaVersion == "" {
		return fmt.Errorf("missing schema version")
	}

	current, err := parseVersion(doc.SchemaVersion)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSchema, doc.SchemaVersion)
	}
	target, err := parseVersion(SchemaVersion)
	if err != nil {
		return fmt.Errorf("invalid target schema version: %s", SchemaVersion)
	}

	// Patch releases never change the document shape
	if current.Major() > target.Major() || (current.Major() == target.Major() && current.Minor() > target.Minor()) {
		return fmt.Errorf("%w: document requires schema version %s, but only %s is supported",
			ErrInvalidSchema, doc.SchemaVersion, SchemaVersion)
	}
	if current.Major() != target.Major() {
		return fmt.Errorf("%w: no migration path from version %s to %s",
			ErrInvalidSchema, doc.SchemaVersion, SchemaVersion)
	}

	return nil
}

// CompareVersions compares two version strings
// Returns: -1 if a < b, 0 if a == b, 1 if a > b
func CompareVersions(a, b string) (int, error) {
	va, err := parseVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := parseVersion(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// IsVersionSupported checks if a schema version is supported, treating
// patch releases of a supported major.minor as compatible
func IsVersionSupported(version string) bool {
	v, err := parseVersion(version)
	if err != nil {
		return false
	}

	for _, supported := range SupportedSchemaVersions {
		sv, err := parseVersion(supported)
		if err != nil {
			continue
		}
		if v.Major() == sv.Major() && v.Minor() == sv.Minor() {
			return true
		}
	}
	return false
}
