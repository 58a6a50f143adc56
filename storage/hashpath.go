package storage

import (
	"fmt"
	"strings"

	"github.com/ruteri/resource-store/interfaces"
)

// shardWidth is the number of hex characters per directory level.
const shardWidth = 5

// ShardedPath maps a 40-character hex hash to a slash-separated path made of
// fixed-width groups followed by the full hash, for example
// c828d/0f88c/e197b/e1aff/7cc2e/5e86b/12442/41ac6/c828d0f88ce197be1aff7cc2e5e86b1244241ac6.
// Splitting bounds the number of entries per directory level.
func ShardedPath(hash string) (string, error) {
	if len(hash) != 40 {
		return "", fmt.Errorf("%w: hash must be 40 characters, got %d", interfaces.ErrInvalidArgument, len(hash))
	}

	var b strings.Builder
	b.Grow(len(hash)*2 + len(hash)/shardWidth)
	for i := 0; i < len(hash); i += shardWidth {
		b.WriteString(hash[i : i+shardWidth])
		b.WriteByte('/')
	}
	b.WriteString(hash)
	return b.String(), nil
}
