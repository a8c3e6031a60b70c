package models

import (
	"encoding/json"
	"fmt"
)

// OutcomeKind classifies a single delivery attempt.
type OutcomeKind int

const (
	// OutcomeDelivered means the push gateway accepted the message.
	OutcomeDelivered OutcomeKind = iota + 1
	// OutcomeSubscriptionGone means the gateway reported the channel as gone.
	// The subscription must not be used again until the client re-subscribes.
	OutcomeSubscriptionGone
	// OutcomeTransientFailure covers every other failure.
	OutcomeTransientFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeSubscriptionGone:
		return "subscription_gone"
	case OutcomeTransientFailure:
		return "transient_failure"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

func (k OutcomeKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// DeliveryOutcome is the result of one (subscription, payload) attempt.
// Reason is only set for transient failures; build values with Delivered,
// SubscriptionGone and TransientFailure.
type DeliveryOutcome struct {
	Kind       OutcomeKind `json:"kind"`
	Reason     string      `json:"reason,omitempty"`
	StatusCode int         `json:"status_code,omitempty"`
}

func Delivered(statusCode int) DeliveryOutcome {
	return DeliveryOutcome{Kind: OutcomeDelivered, StatusCode: statusCode}
}

func SubscriptionGone(statusCode int) DeliveryOutcome {
	return DeliveryOutcome{Kind: OutcomeSubscriptionGone, StatusCode: statusCode}
}

func TransientFailure(reason string, statusCode int) DeliveryOutcome {
	if reason == "" {
		reason = "unknown failure"
	}
	return DeliveryOutcome{Kind: OutcomeTransientFailure, Reason: reason, StatusCode: statusCode}
}

// Cancelled marks an attempt that never finished because the dispatch was cancelled.
func Cancelled() DeliveryOutcome {
	return TransientFailure(ReasonCancelled, 0)
}

const (
	ReasonCancelled = "cancelled"
	ReasonTimeout   = "timeout"
)

func (o DeliveryOutcome) IsDelivered() bool { return o.Kind == OutcomeDelivered }
func (o DeliveryOutcome) IsGone() bool      { return o.Kind == OutcomeSubscriptionGone }

// BulkReport aggregates a fan-out. PerRecipient is index-aligned with the
// subscriptions passed to the dispatcher.
type BulkReport struct {
	Total        int               `json:"total"`
	Succeeded    int               `json:"succeeded"`
	Failed       int               `json:"failed"`
	PerRecipient []DeliveryOutcome `json:"per_recipient"`
}

// NewBulkReport tallies outcomes into a report.
func NewBulkReport(outcomes []DeliveryOutcome) *BulkReport {
	report := &BulkReport{
		Total:        len(outcomes),
		PerRecipient: outcomes,
	}
	if report.PerRecipient == nil {
		report.PerRecipient = []DeliveryOutcome{}
	}
	for _, o := range outcomes {
		if o.IsDelivered() {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	return report
}

// Gone returns the indexes whose subscriptions were reported gone.
func (r *BulkReport) Gone() []int {
	var idx []int
	for i, o := range r.PerRecipient {
		if o.IsGone() {
			idx = append(idx, i)
		}
	}
	return idx
}
