package localstore

import (
	"fmt"
	"sort"

	"github.com/mschirtzinger/studysync/internal/model"
)

// CurrentSchemaVersion is stamped on every saved aggregate.
const CurrentSchemaVersion = 2

// Migration upgrades an aggregate stored at version From to From+1.
type Migration func(d *model.AppData) error

// migrations holds per-version field transforms. Versions without an entry
// are upgraded by stamping alone.
var migrations = map[int]Migration{}

// RegisterMigration installs the upgrade step for aggregates stored at
// version from.
func RegisterMigration(from int, m Migration) {
	migrations[from] = m
}

// Migrate upgrades d in place to CurrentSchemaVersion. It never downgrades.
func Migrate(d *model.AppData) error {
	if d.SchemaVersion >= CurrentSchemaVersion {
		return nil
	}

	versions := make([]int, 0, len(migrations))
	for v := range migrations {
		versions = append(versions, v)
	}
	sort.Ints(versions)

	for _, v := range versions {
		if v < d.SchemaVersion || v >= CurrentSchemaVersion {
			continue
		}
		if err := migrations[v](d); err != nil {
			return fmt.Errorf("failed to migrate from schema %d: %w", v, err)
		}
	}

	d.SchemaVersion = CurrentSchemaVersion
	return nil
}
