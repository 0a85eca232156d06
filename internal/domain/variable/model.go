// Package variable defines per-monitor key/value blobs readable and
// writable only from that monitor's own callbacks.
package variable

import "time"

// Variable is a per-monitor key/value blob.
type Variable struct {
	MonitorID int64
	Key       string
	Value     []byte
	UpdatedAt time.Time
}
