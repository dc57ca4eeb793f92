package notification

import (
	"bytes"
	"encoding/json"
	"fmt"

	apperrors "github.com/datarill/datarill/errors"
	"github.com/datarill/datarill/validation"
)

// Type discriminates the notification channel.
type Type string

const (
	TypeWebhook Type = "WEBHOOK"
	TypeSlack   Type = "SLACK"
	TypeFCM     Type = "FCM"
)

// WebhookParameter targets an arbitrary HTTP endpoint.
type WebhookParameter struct {
	URL string `json:"url" validate:"required,url"`
}

// SlackParameter identifies a Slack incoming webhook.
type SlackParameter struct {
	WorkspaceID string `json:"workspaceId" validate:"required"`
	ChannelID   string `json:"channelId" validate:"required"`
	Secret      string `json:"secret" validate:"required"`
}

// FCMParameter holds Firebase Cloud Messaging credentials and target topic.
type FCMParameter struct {
	ProjectID   string `json:"projectId" validate:"required"`
	ClientEmail string `json:"clientEmail" validate:"required,email"`
	PrivateKey  string `json:"privateKey" validate:"required"`
	Topic       string `json:"topic" validate:"required"`
}

// Parameter is the tagged union of channel parameters. Exactly one field is
// non-nil, matching the owning Config's Type.
type Parameter struct {
	Webhook *WebhookParameter
	Slack   *SlackParameter
	FCM     *FCMParameter
}

// Config is one notification subscription.
type Config struct {
	ID         string    `json:"id"`
	PipelineID string    `json:"pipelineId" validate:"required"`
	Condition  string    `json:"condition" validate:"required"`
	Type       Type      `json:"type" validate:"required"`
	Parameter  Parameter `json:"parameter"`
}

// configAlias carries the raw parameter through a first decoding pass.
type configAlias struct {
	ID         string          `json:"id"`
	PipelineID string          `json:"pipelineId"`
	Condition  string          `json:"condition"`
	Type       Type            `json:"type"`
	Parameter  json.RawMessage `json:"parameter"`
}

// UnmarshalJSON decodes a Config and rejects any parameter shape that does
// not match the declared type. Unknown parameter fields are errors so a
// SLACK parameter can never pass as a WEBHOOK one.
func (c *Config) UnmarshalJSON(data []byte) error {
	var alias configAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	c.ID = alias.ID
	c.PipelineID = alias.PipelineID
	c.Condition = alias.Condition
	c.Type = alias.Type
	c.Parameter = Parameter{}

	if len(alias.Parameter) == 0 || bytes.Equal(alias.Parameter, []byte("null")) {
		return apperrors.MissingField("parameter")
	}

	switch alias.Type {
	case TypeWebhook:
		var p WebhookParameter
		if err := strictUnmarshal(alias.Parameter, &p); err != nil {
			return parameterMismatch(alias.Type, err)
		}
		c.Parameter.Webhook = &p
	case TypeSlack:
		var p SlackParameter
		if err := strictUnmarshal(alias.Parameter, &p); err != nil {
			return parameterMismatch(alias.Type, err)
		}
		c.Parameter.Slack = &p
	case TypeFCM:
		var p FCMParameter
		if err := strictUnmarshal(alias.Parameter, &p); err != nil {
			return parameterMismatch(alias.Type, err)
		}
		c.Parameter.FCM = &p
	default:
		return apperrors.InvalidInput("type", fmt.Sprintf("unknown notification type %q", alias.Type))
	}

	return c.Validate()
}

// MarshalJSON emits the active parameter under the plain "parameter" key.
func (c Config) MarshalJSON() ([]byte, error) {
	var param any
	switch {
	case c.Parameter.Webhook != nil:
		param = c.Parameter.Webhook
	case c.Parameter.Slack != nil:
		param = c.Parameter.Slack
	case c.Parameter.FCM != nil:
		param = c.Parameter.FCM
	}
	return json.Marshal(configAliasOut{
		ID:         c.ID,
		PipelineID: c.PipelineID,
		Condition:  c.Condition,
		Type:       c.Type,
		Parameter:  param,
	})
}

type configAliasOut struct {
	ID         string `json:"id"`
	PipelineID string `json:"pipelineId"`
	Condition  string `json:"condition"`
	Type       Type   `json:"type"`
	Parameter  any    `json:"parameter"`
}

// Validate checks required fields and the type/parameter pairing.
func (c *Config) Validate() error {
	if err := validation.Validate(c); err != nil {
		return err
	}

	var active any
	switch c.Type {
	case TypeWebhook:
		if c.Parameter.Webhook == nil {
			return parameterMismatch(c.Type, nil)
		}
		active = c.Parameter.Webhook
	case TypeSlack:
		if c.Parameter.Slack == nil {
			return parameterMismatch(c.Type, nil)
		}
		active = c.Parameter.Slack
	case TypeFCM:
		if c.Parameter.FCM == nil {
			return parameterMismatch(c.Type, nil)
		}
		active = c.Parameter.FCM
	default:
		return apperrors.InvalidInput("type", fmt.Sprintf("unknown notification type %q", c.Type))
	}

	if count := countActive(c.Parameter); count != 1 {
		return apperrors.InvalidInput("parameter", "exactly one parameter shape must be set")
	}
	return validation.Validate(active)
}

func countActive(p Parameter) int {
	n := 0
	if p.Webhook != nil {
		n++
	}
	if p.Slack != nil {
		n++
	}
	if p.FCM != nil {
		n++
	}
	return n
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parameterMismatch(t Type, cause error) error {
	err := apperrors.InvalidInput("parameter", fmt.Sprintf("parameter shape does not match type %s", t))
	if cause != nil {
		return err.WithCause(cause)
	}
	return err
}
