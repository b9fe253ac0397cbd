// Package lifecycle holds shared start/stop constants for long-lived components.
package lifecycle

import "time"

// DefaultTimeout bounds a single startup or shutdown step.
const DefaultTimeout = 10 * time.Second
