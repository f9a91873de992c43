package notification

import "time"

// ThreatNotification is raised when a correlated indicator crosses the action threshold
type ThreatNotification struct {
	ID             string     `json:"id"`
	Kind           Kind       `json:"kind"`
	IndicatorID    string     `json:"indicator_id"`
	IndicatorKey   string     `json:"indicator_key"`
	TicketID       string     `json:"ticket_id,omitempty"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	Severity       Severity   `json:"severity"`
	Category       string     `json:"category"`
	Priority       int        `json:"priority"` // 1=urgent .. 4=low
	Reputation     int        `json:"reputation"`
	Sources        []string   `json:"sources"`
	Status         Status     `json:"status"`
	Read           bool       `json:"read"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ActionRequired bool       `json:"action_required"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Kind separates threshold-crossing notifications from SLA escalations
type Kind string

const (
	KindThreat     Kind = "threat"
	KindEscalation Kind = "escalation"
)

// Severity represents notification severity
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Status is the dispatch lifecycle: pending -> dispatched -> acknowledged
type Status string

const (
	StatusPending      Status = "pending"
	StatusDispatched   Status = "dispatched"
	StatusAcknowledged Status = "acknowledged"
)

// SeverityForPriority maps a priority rank to its severity label
func SeverityForPriority(priority int) Severity {
	switch priority {
	case 1:
		return SeverityCritical
	case 2:
		return SeverityHigh
	case 3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Filter contains notification listing options
type Filter struct {
	Kind               Kind
	IndicatorID        string
	Severity           Severity
	UnacknowledgedOnly bool
}
