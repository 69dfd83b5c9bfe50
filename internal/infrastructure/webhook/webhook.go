package webhook

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

type Webhook struct {
	ID         string `json:"id"`
	ActionType Action `json:"actionType"`
	Endpoint   string `json:"endpoint"`
	Secret     string `json:"secret,omitempty"`
}

func NewWebhook(actionType Action, endpoint, secret string) (*Webhook, error) {
	if actionType < TradeUpdated || actionType > AllActions {
		return nil, fmt.Errorf("action is of unknown type")
	}
	u, err := url.ParseRequestURI(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, ErrInvalidEndpoint
	}
	id := uuid.New().String()
	return &Webhook{id, actionType, endpoint, secret}, nil
}

// ParseWebhook parses a webhook in the ACTION@ENDPOINT[#SECRET] format.
func ParseWebhook(str string) (*Webhook, error) {
	actionStr, rest, ok := strings.Cut(str, "@")
	if !ok {
		return nil, ErrInvalidWebhookConfig
	}
	action, ok := ActionFromString(actionStr)
	if !ok {
		return nil, ErrUnknownAction
	}
	endpoint, secret, _ := strings.Cut(rest, "#")
	return NewWebhook(action, endpoint, secret)
}

func (h *Webhook) IsSecured() bool {
	return len(h.Secret) > 0
}

// redacted returns a copy of the hook without its secret.
func (h *Webhook) redacted() *Webhook {
	return &Webhook{h.ID, h.ActionType, h.Endpoint, ""}
}
