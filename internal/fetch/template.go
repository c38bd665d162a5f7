package fetch

import (
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"
)

// IsTemplate reports whether path carries tile coordinate placeholders.
func IsTemplate(path string) bool {
	return strings.Contains(path, "{z}") ||
		strings.Contains(path, "{x}") ||
		strings.Contains(path, "{y}")
}

// Expand substitutes {z}, {x} and {y} in template with the tile coordinates.
func Expand(template string, t maptile.Tile) string {
	r := strings.NewReplacer(
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
		"{z}", strconv.FormatUint(uint64(t.Z), 10),
	)
	return r.Replace(template)
}
