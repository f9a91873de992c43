package dto

import (
	"time"

	"github.com/pratik-mahalle/threatwatch/internal/domain/indicator"
	"github.com/pratik-mahalle/threatwatch/internal/domain/ticket"
)

// IndicatorDTO is a correlated indicator with its current score
type IndicatorDTO struct {
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

// FromIndicator builds the API view of ind with the given score and priority
func FromIndicator(ind *indicator.Indicator, score float64, priority int) IndicatorDTO {
	return IndicatorDTO{
		ID:         ind.ID,
		Type:       string(ind.Type),
		Value:      ind.Value,
		FirstSeen:  ind.FirstSeen,
		LastSeen:   ind.LastSeen,
		Sources:    ind.Sources,
		Reputation: ind.Reputation,
		Category:   ind.Category,
		Campaigns:  ind.Campaigns,
		Tags:       ind.Tags,
		Score:      score,
		Priority:   priority,
	}
}

// LookupRequest asks one source about a single observable
type LookupRequest struct {
	Type  string `json:"type" validate:"required,indicator_type"`
	Value string `json:"value" validate:"required,max=2048"`
}

// ObservationDTO is a normalized search hit that has not been stored
type ObservationDTO struct {
	Type       string   `json:"type"`
	Value      string   `json:"value"`
	Reputation int      `json:"reputation"`
	Category   string   `json:"category"`
	Tags       []string `json:"tags,omitempty"`
	Campaign   string   `json:"campaign,omitempty"`
}

// FromObservation builds the API view of a search hit
func FromObservation(o indicator.Observation) ObservationDTO {
	return ObservationDTO{
		Type:       string(o.Type),
		Value:      o.Value,
		Reputation: o.Reputation,
		Category:   o.Category,
		Tags:       o.Tags,
		Campaign:   o.Campaign,
	}
}

// AcknowledgeRequest records who handled a notification. By falls back to the
// X-Actor header.
type AcknowledgeRequest struct {
	By string `json:"by" validate:"max=200"`
}

// UpdateTicketStatusRequest moves a ticket through its workflow
type UpdateTicketStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=open in_progress pending resolved closed"`
}

// ReprioritizeRequest changes a ticket's priority and recomputes its deadline
type ReprioritizeRequest struct {
	Priority int `json:"priority" validate:"required,min=1,max=4"`
}

// TicketDTO is the API view of a ticket
type TicketDTO struct {
	ticket.Ticket
	Overdue bool `json:"overdue"`
}
