package model

import "time"

// Shared defaults used by both the daemon and the terminal panel.
const (
	DefaultUpdateInterval = time.Second
	DefaultLogPath        = "/var/tmp/opencanary.log"
	DefaultRecentLimit    = 20
)
