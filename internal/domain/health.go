package domain

// AlertLevel grades a market health finding.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertError    AlertLevel = "error"
	AlertCritical AlertLevel = "critical"
)

// Alert is one finding of the market health sweep.
type Alert struct {
	Level     AlertLevel
	ItemID    string
	Message   string
	Value     float64
	Threshold float64
}

// HealthStatus is the overall verdict of one monitoring pass.
type HealthStatus string

const (
	HealthHealthy HealthStatus = "healthy"
	HealthWarning HealthStatus = "warning"
	HealthError   HealthStatus = "error"
)

// HealthReport aggregates one monitoring pass. Monitoring never fails: an
// internal error becomes a single critical alert with HealthError status.
type HealthReport struct {
	Status       HealthStatus
	HealthyCount int
	WarningCount int
	ErrorCount   int
	Alerts       []Alert
}
