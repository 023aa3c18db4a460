package model

import "time"

// Detection is one classified honeypot event, as kept in the history.
type Detection struct {
	ID         string    `json:"id"`
	DetectedAt time.Time `json:"detected_at"`
	Protocol   string    `json:"protocol"`
	DstPort    int       `json:"dst_port"`
	Source     string    `json:"source"`
}

// IndicatorView is the wire form of the indicator state.
type IndicatorView struct {
	Active []string `json:"active"`
	Slots  []bool   `json:"slots"`
}
