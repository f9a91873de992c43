package client

import "time"

// Source is a registered threat-intelligence feed
type Source struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	Provider            string            `json:"provider"`
	Endpoint            string            `json:"endpoint"`
	HasCredential       bool              `json:"has_credential"`
	FeedType            string            `json:"feed_type"`
	PollInterval        string            `json:"poll_interval"`
	TrustWeight         float64           `json:"trust_weight"`
	Enabled             bool              `json:"enabled"`
	Health              string            `json:"health"`
	LastSuccessAt       *time.Time        `json:"last_success_at,omitempty"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	LastError           string            `json:"last_error,omitempty"`
	DisabledReason      string            `json:"disabled_reason,omitempty"`
	Options             map[string]string `json:"options,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// PollResult is the outcome of a manual poll
type PollResult struct {
	SourceID      string    `json:"source_id"`
	Records       int       `json:"records"`
	Created       int       `json:"created"`
	Updated       int       `json:"updated"`
	Skipped       int       `json:"skipped"`
	Notifications int       `json:"notifications"`
	Error         string    `json:"error,omitempty"`
	NextPoll      time.Time `json:"next_poll,omitempty"`
	Scheduled     bool      `json:"scheduled"`
}

// Indicator is a correlated observable with its current score
type Indicator struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Value      string    `json:"value"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	Sources    []string  `json:"sources"`
	Reputation int       `json:"reputation"`
	Category   string    `json:"category"`
	Campaigns  []string  `json:"campaigns,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Score      float64   `json:"score"`
	Priority   int       `json:"priority"`
}

// Observation is a search hit that the server did not store
type Observation struct {
	Type       string   `json:"type"`
	Value      string   `json:"value"`
	Reputation int      `json:"reputation"`
	Category   string   `json:"category"`
	Tags       []string `json:"tags,omitempty"`
	Campaign   string   `json:"campaign,omitempty"`
}

// Pulse is a campaign grouping reported by a source
type Pulse struct {
	ID            string    `json:"id"`
	SourceID      string    `json:"source_id"`
	ExternalID    string    `json:"external_id"`
	Name          string    `json:"name"`
	Author        string    `json:"author,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	IndicatorKeys []string  `json:"indicator_keys"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Notification is an analyst alert or supervisor escalation
type Notification struct {
	ID             string     `json:"id"`
	Kind           string     `json:"kind"` // threat, escalation
	IndicatorID    string     `json:"indicator_id"`
	IndicatorKey   string     `json:"indicator_key"`
	TicketID       string     `json:"ticket_id,omitempty"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	Severity       string     `json:"severity"`
	Category       string     `json:"category"`
	Priority       int        `json:"priority"`
	Reputation     int        `json:"reputation"`
	Sources        []string   `json:"sources"`
	Status         string     `json:"status"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ActionRequired bool       `json:"action_required"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Ticket is the work item opened for an actionable threat
type Ticket struct {
	ID                 string     `json:"id"`
	NotificationID     string     `json:"notification_id"`
	IndicatorID        string     `json:"indicator_id"`
	Title              string     `json:"title"`
	Category           string     `json:"category"`
	Priority           int        `json:"priority"`
	Status             string     `json:"status"`
	SLADeadline        time.Time  `json:"sla_deadline"`
	FirstResponseAt    *time.Time `json:"first_response_at,omitempty"`
	Escalated          bool       `json:"escalated"`
	EscalationReason   string     `json:"escalation_reason,omitempty"`
	EscalatedAt        *time.Time `json:"escalated_at,omitempty"`
	EscalationNotified bool       `json:"escalation_notified"`
	Overdue            bool       `json:"overdue"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ListOptions contains pagination options
type ListOptions struct {
	Page     int
	PageSize int
}

// Page is one page of a paginated listing
type Page[T any] struct {
	Data       []T   `json:"data"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

// HealthStatus is the readiness probe body
type HealthStatus struct {
	Status         string `json:"status"`
	Database       string `json:"database,omitempty"`
	PollQueueDepth int    `json:"poll_queue_depth"`
}
