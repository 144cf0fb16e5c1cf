package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// PostgresFS embeds the account, mint and venue schema.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS embeds the ledger event journal schema.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS

// Tables the ledger stores query; a migration run that leaves one of them
// missing is reported instead of failing later on the first operation.
var (
	postgresTables   = []string{"lobbyists", "escrows", "mints", "token_accounts", "daos", "proposals", "pools"}
	clickhouseTables = []string{"ledger_events"}
)

// MigrationError identifies the schema file that failed to apply.
type MigrationError struct {
	Database string
	File     string
	Err      error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("%s migration %s: %v", e.Database, e.File, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

type migration struct {
	name string
	sql  string
}

// migrationFiles returns the non-empty .sql files under dir ordered by name.
func migrationFiles(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}

	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		data, err := fs.ReadFile(fsys, dir+"/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		out = append(out, migration{name: entry.Name(), sql: string(data)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}
