package script

import "time"

// SecurityLimits constrains script execution.
type SecurityLimits struct {
	MaxExecutionTime time.Duration
	// MaxAllocs bounds the number of objects a single run may allocate.
	// Zero or less disables the limit.
	MaxAllocs       int64
	AllowedPackages []string
}

// DefaultSecurityLimits provides safe default constraints for script execution
var DefaultSecurityLimits = SecurityLimits{
	MaxExecutionTime: 5 * time.Second,
	MaxAllocs:        100_000,
	AllowedPackages: []string{
		"fmt",
		"strings",
		"math",
		"text",
		"json",
		"times",
	},
}

// GetDefaultSecurityLimits returns a copy of the default security limits
func GetDefaultSecurityLimits() SecurityLimits {
	limits := DefaultSecurityLimits
	limits.AllowedPackages = make([]string, len(DefaultSecurityLimits.AllowedPackages))
	copy(limits.AllowedPackages, DefaultSecurityLimits.AllowedPackages)
	return limits
}
