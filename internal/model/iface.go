package model

// HistoryReader provides read-only queries over recorded detections.
type HistoryReader interface {
	Counts() (map[string]int64, error)
	Recent(limit int) ([]Detection, error)
}

// HistoryWriter appends detections.
type HistoryWriter interface {
	Record(d Detection) error
}
