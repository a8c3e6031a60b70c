package models

// Subscription is a browser push channel descriptor issued by the push gateway.
// Keys are kept in the base64url form browsers hand out.
type Subscription struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	Keys     Keys   `json:"keys"`
}

// Keys holds the client encryption material of a subscription.
type Keys struct {
	Auth   string `json:"auth" validate:"required"`
	P256dh string `json:"p256dh" validate:"required"`
}
