package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var fileNameRe = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)

// Migration is one goose SQL file on disk.
type Migration struct {
	Version int64
	Name    string
	Path    string
}

// ParseVersion accepts the YYYYMMDDHHMMSS stamp used in file names.
func ParseVersion(value string) (int64, error) {
	if len(value) != 14 {
		return 0, fmt.Errorf("invalid version %q: expected YYYYMMDDHHMMSS", value)
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", value, err)
	}
	return v, nil
}

// List returns the SQL migrations in dir ordered by version. Non-SQL files are
// skipped; a badly named or duplicated SQL file is an error.
func List(dir string) ([]Migration, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}
	var out []Migration
	byVersion := map[int64]string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		m := fileNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			return nil, fmt.Errorf("invalid migration filename %q: expected YYYYMMDDHHMMSS_name.sql", e.Name())
		}
		version, err := ParseVersion(m[1])
		if err != nil {
			return nil, err
		}
		if prev, dup := byVersion[version]; dup {
			return nil, fmt.Errorf("version %d used by %q and %q", version, prev, e.Name())
		}
		byVersion[version] = e.Name()
		out = append(out, Migration{Version: version, Name: m[2], Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// ValidateDir checks file names and that every migration declares both
// directions with balanced statement blocks.
func ValidateDir(dir string) error {
	migrations, err := List(dir)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		body, err := os.ReadFile(m.Path)
		if err != nil {
			return fmt.Errorf("read %q: %w", m.Path, err)
		}
		if err := checkBody(string(body)); err != nil {
			return fmt.Errorf("migration %s: %w", filepath.Base(m.Path), err)
		}
	}
	return nil
}

func checkBody(body string) error {
	up := strings.Index(body, "-- +goose Up")
	down := strings.Index(body, "-- +goose Down")
	switch {
	case up < 0:
		return fmt.Errorf(`missing "-- +goose Up"`)
	case down < 0:
		return fmt.Errorf(`missing "-- +goose Down"`)
	case down < up:
		return fmt.Errorf("down section precedes up section")
	}
	begins := strings.Count(body, "-- +goose StatementBegin")
	ends := strings.Count(body, "-- +goose StatementEnd")
	if begins != ends {
		return fmt.Errorf("%d StatementBegin markers but %d StatementEnd", begins, ends)
	}
	return nil
}
