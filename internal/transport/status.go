package transport

// Tuning outcome statuses.
const (
	StatusOK     = "ok"
	StatusNA     = "n/a"
	StatusDenied = "denied"
	StatusSkip   = "skipped"
)
