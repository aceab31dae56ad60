package redis

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	cacheKeySeparator     = ":"
	cacheRowSegment       = "row"
	cacheDependencyPrefix = "deps"
)

// RowKey returns the cache key of one row: "<prefix>:<database>:<table>:row:<hash>"
// where hash is the xxhash of the row's canonical key value.
func (m *Manager) RowKey(database, table, key string) string {
	return rowKey(m.prefix(), database, table, key)
}

func (m *Manager) prefix() string {
	if m.config.KeyPrefix == "" {
		return "save4go"
	}
	return m.config.KeyPrefix
}

func rowKey(prefix, database, table, key string) string {
	return strings.Join([]string{
		prefix, database, table, cacheRowSegment,
		fmt.Sprintf("%016x", xxhash.Sum64String(key)),
	}, cacheKeySeparator)
}

// dependencyKey names the set of cache keys derived from one row,
// for example "save4go:deps:orders:i:42".
func dependencyKey(prefix, table, key string) string {
	return strings.Join([]string{prefix, cacheDependencyPrefix, table, key}, cacheKeySeparator)
}

// invalidationPatterns expands the configured patterns of a table
func (m *Manager) invalidationPatterns(table, key string) []string {
	var patterns []string
	for _, p := range m.config.Invalidation.KeyPatterns[table] {
		patterns = append(patterns, strings.ReplaceAll(p, "{key}", key))
	}
	return patterns
}
