package notification

import (
	"fmt"
	"strings"
)

// Settings holds service-level dispatch configuration.
type Settings struct {
	// SlackBaseURL prefixes assembled incoming-webhook URLs.
	SlackBaseURL string `mapstructure:"slack_base_url"`

	// FCMBaseURL is the Firebase Cloud Messaging API endpoint.
	FCMBaseURL string `mapstructure:"fcm_base_url"`

	// StorageBaseURL is where pipeline results are reachable; webhook
	// deliveries point their location field here.
	StorageBaseURL string `mapstructure:"storage_base_url"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (s *Settings) ApplyDefaults() {
	if s.SlackBaseURL == "" {
		s.SlackBaseURL = "https://hooks.slack.com/services"
	}
	if s.FCMBaseURL == "" {
		s.FCMBaseURL = "https://fcm.googleapis.com"
	}
	if s.StorageBaseURL == "" {
		s.StorageBaseURL = "http://localhost:9000/storage"
	}
}

// Validate checks the configuration for errors.
func (s *Settings) Validate() error {
	for name, value := range map[string]string{
		"slack_base_url":   s.SlackBaseURL,
		"fcm_base_url":     s.FCMBaseURL,
		"storage_base_url": s.StorageBaseURL,
	} {
		if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
			return fmt.Errorf("notification: %s must be an http(s) URL", name)
		}
	}
	return nil
}
