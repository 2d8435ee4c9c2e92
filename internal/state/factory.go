package state

import (
	"fmt"
	"strings"
)

// HistoryDrivers lists all available history log drivers.
var HistoryDrivers = []string{"json", "bbolt"}

// NewHistory creates a HistoryLog for the specified driver.
// Supported drivers:
//   - "json": JSON array file, the documented on-disk layout
//   - "bbolt": BoltDB-backed, for busier deployments
//
// max is the retention cap; <=0 uses DefaultMaxEntries.
func NewHistory(driver, path string, max int) (HistoryLog, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))

	if path == "" {
		return nil, fmt.Errorf("history path is required")
	}

	switch driver {
	case "json":
		return NewJSONHistory(path, max)
	case "bbolt":
		return NewBoltHistory(path, max)
	default:
		return nil, fmt.Errorf("unsupported history driver: %s (supported: %v)", driver, HistoryDrivers)
	}
}
