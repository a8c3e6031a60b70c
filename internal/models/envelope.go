package models

import "time"

const ChannelPush = "push"

// Envelope actions. An empty action means ActionSend.
const (
	ActionSend      = "send"
	ActionRead      = "read"
	ActionReadAll   = "read_all"
	ActionDelete    = "delete"
	ActionSubscribe = "subscribe"
)

// MessageEnvelope is a unit of work published on the push queue.
type MessageEnvelope struct {
	RequestID      string                 `json:"request_id"`
	CorrelationID  string                 `json:"correlation_id"`
	CreatedAt      time.Time              `json:"created_at"`
	Channel        string                 `json:"channel"`
	Action         string                 `json:"action,omitempty"`
	UserID         string                 `json:"user_id,omitempty"`
	UserIDs        []string               `json:"user_ids,omitempty"`
	NotificationID string                 `json:"notification_id,omitempty"`
	Notification   NotificationContent    `json:"notification"`
	Variables      map[string]interface{} `json:"variables,omitempty"`
	SendPush       *bool                  `json:"send_push,omitempty"`
	Subscription   *Subscription          `json:"subscription,omitempty"`
}

// NotificationContent is the user-facing part of a send request.
type NotificationContent struct {
	Title              string           `json:"title"`
	Body               string           `json:"body"`
	Icon               string           `json:"icon,omitempty"`
	Badge              string           `json:"badge,omitempty"`
	URL                string           `json:"url,omitempty"`
	Type               NotificationType `json:"type,omitempty"`
	Priority           Priority         `json:"priority,omitempty"`
	Data               map[string]any   `json:"data,omitempty"`
	Tag                string           `json:"tag,omitempty"`
	Actions            []Action         `json:"actions,omitempty"`
	RequireInteraction bool             `json:"require_interaction,omitempty"`
	Silent             bool             `json:"silent,omitempty"`
	Vibrate            []int            `json:"vibrate,omitempty"`
}

// ResolvedAction returns the action with the default applied.
func (e *MessageEnvelope) ResolvedAction() string {
	if e.Action == "" {
		return ActionSend
	}
	return e.Action
}

// ShouldSendPush reports whether a push should follow record creation.
func (e *MessageEnvelope) ShouldSendPush() bool {
	return e.SendPush == nil || *e.SendPush
}

// IsBroadcast reports whether the envelope targets several users at once.
func (e *MessageEnvelope) IsBroadcast() bool {
	return len(e.UserIDs) > 0
}
