package cache

import "path/filepath"

// DBPath returns the show cache location inside the storage directory.
// Stable: the schema and the filename belong to this package, callers
// only choose the directory.
func DBPath(dir string) string {
	return filepath.Join(dir, "shows.db")
}
