package services

import (
	"maps"
	"slices"

	"github.com/CyberwizD/webpush-service/internal/models"
)

const DefaultTag = "default"

// DefaultVibrate is the vibration pattern used when none is supplied, in ms.
var DefaultVibrate = []int{200, 100, 200}

// PayloadOptions are the optional display fields of a payload. Zero values
// are replaced by the documented defaults.
type PayloadOptions struct {
	Icon               string
	Badge              string
	URL                string
	Data               map[string]any
	Actions            []models.Action
	RequireInteraction bool
	Silent             bool
	Vibrate            []int
	Tag                string
}

// BuildPayload assembles a delivery payload. Title and body are used as given;
// rejecting empty text is left to the caller. Slices and maps are copied so the
// returned payload does not alias the options.
func BuildPayload(title, body string, opts PayloadOptions) *models.Payload {
	p := &models.Payload{
		Title:              title,
		Body:               body,
		Icon:               orDefault(opts.Icon, models.DefaultIcon),
		Badge:              orDefault(opts.Badge, models.DefaultBadge),
		URL:                orDefault(opts.URL, models.DefaultURL),
		Data:               map[string]any{},
		Actions:            []models.Action{},
		RequireInteraction: opts.RequireInteraction,
		Silent:             opts.Silent,
		Vibrate:            slices.Clone(DefaultVibrate),
		Tag:                orDefault(opts.Tag, DefaultTag),
	}
	if len(opts.Data) > 0 {
		p.Data = maps.Clone(opts.Data)
	}
	if len(opts.Actions) > 0 {
		p.Actions = slices.Clone(opts.Actions)
	}
	if len(opts.Vibrate) > 0 {
		p.Vibrate = slices.Clone(opts.Vibrate)
	}
	return p
}

// OptionsFromContent maps envelope content onto payload options.
func OptionsFromContent(content models.NotificationContent) PayloadOptions {
	return PayloadOptions{
		Icon:               content.Icon,
		Badge:              content.Badge,
		URL:                content.URL,
		Data:               content.Data,
		Actions:            content.Actions,
		RequireInteraction: content.RequireInteraction,
		Silent:             content.Silent,
		Vibrate:            content.Vibrate,
		Tag:                content.Tag,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
