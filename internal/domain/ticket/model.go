package ticket

import (
	"fmt"
	"time"
)

// Ticket tracks the response to an action-required notification
type Ticket struct {
	ID                 string     `json:"id"`
	NotificationID     string     `json:"notification_id"`
	IndicatorID        string     `json:"indicator_id"`
	Title              string     `json:"title"`
	Category           string     `json:"category"`
	Priority           int        `json:"priority"`
	Status             Status     `json:"status"`
	SLADeadline        time.Time  `json:"sla_deadline"`
	FirstResponseAt    *time.Time `json:"first_response_at,omitempty"`
	Escalated          bool       `json:"escalated"`
	EscalationReason   string     `json:"escalation_reason,omitempty"`
	EscalatedAt        *time.Time `json:"escalated_at,omitempty"`
	EscalationNotified bool       `json:"escalation_notified"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Status represents the ticket workflow state
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusPending    Status = "pending"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

var transitions = map[Status][]Status{
	StatusOpen:       {StatusInProgress, StatusPending, StatusResolved, StatusClosed},
	StatusInProgress: {StatusPending, StatusResolved, StatusClosed},
	StatusPending:    {StatusInProgress, StatusResolved, StatusClosed},
	StatusResolved:   {StatusClosed},
}

// IsValid checks if the status is known
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusPending, StatusResolved, StatusClosed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether a ticket in this status no longer needs action
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// CanTransition reports whether from -> to is a legal workflow move
func CanTransition(from, to Status) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("invalid ticket transition %s -> %s", from, to)
}

// Overdue reports whether the ticket has missed its deadline and still qualifies
// for escalation.
func (t *Ticket) Overdue(now time.Time) bool {
	return !t.Status.IsTerminal() && t.EscalatedAt == nil && now.After(t.SLADeadline)
}

// Filter contains ticket listing options
type Filter struct {
	Status    Status
	Escalated *bool
}

// Changes are the mutable fields accepted by Repository.Update
type Changes struct {
	Status          *Status
	Priority        *int
	SLADeadline     *time.Time
	FirstResponseAt *time.Time
}
