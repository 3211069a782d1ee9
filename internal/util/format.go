package util

import (
	"fmt"
	"strings"
)

// FormatSize renders a byte count in the largest fitting binary unit, at
// most three decimal places, trailing zeros dropped. Integer arithmetic
// keeps the output stable across platforms.
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}

	units := []string{"KB", "MB", "GB", "TB", "PB"}
	div := int64(unit)
	exp := 0
	for size/div >= unit && exp < len(units)-1 {
		div *= unit
		exp++
	}

	whole := size / div
	milli := (size % div) * 1000 / div
	if milli == 0 {
		return fmt.Sprintf("%d %s", whole, units[exp])
	}

	frac := strings.TrimRight(fmt.Sprintf("%03d", milli), "0")
	return fmt.Sprintf("%d.%s %s", whole, frac, units[exp])
}
