package webhook

import "errors"

var (
	// ErrUnknownAction specifies that the given string does not represent
	// any known action.
	ErrUnknownAction = errors.New("action is unknown")
	// ErrInvalidEndpoint is returned when the webhook endpoint is not an
	// absolute http(s) url.
	ErrInvalidEndpoint = errors.New("webhook endpoint must be a valid URI")
	// ErrInvalidWebhookConfig is returned for malformed webhooks in config.
	ErrInvalidWebhookConfig = errors.New(
		"webhook must be in the format ACTION@ENDPOINT[#SECRET]",
	)
)
