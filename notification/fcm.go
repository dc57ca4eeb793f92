package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"

	apperrors "github.com/datarill/datarill/errors"
	"github.com/datarill/datarill/resilience"
)

const fcmScope = "https://www.googleapis.com/auth/firebase.messaging"

// fcmClientFactory builds an authenticated HTTP client for one credential.
type fcmClientFactory func(ctx context.Context, p FCMParameter) (*http.Client, error)

// FCMSender sends topic pushes through Firebase Cloud Messaging. Clients
// are created lazily, one per distinct clientEmail, behind a mutex-guarded
// get-or-create map so concurrent dispatches for the same credential share
// one instance.
type FCMSender struct {
	baseURL   string
	retry     resilience.RetryConfig
	mu        sync.Mutex
	clients   map[string]*http.Client
	newClient fcmClientFactory
	creations int
}

// NewFCMSender wires an FCMSender against the given API endpoint.
func NewFCMSender(baseURL string) *FCMSender {
	return &FCMSender{
		baseURL:   strings.TrimRight(baseURL, "/"),
		retry:     resilience.DefaultRetryConfig(),
		clients:   make(map[string]*http.Client),
		newClient: serviceAccountClient,
	}
}

// serviceAccountClient builds an OAuth2 client from the service-account
// credentials carried in the parameter.
func serviceAccountClient(ctx context.Context, p FCMParameter) (*http.Client, error) {
	conf := &jwt.Config{
		Email:      p.ClientEmail,
		PrivateKey: []byte(p.PrivateKey),
		Scopes:     []string{fcmScope},
		TokenURL:   google.JWTTokenURL,
	}
	return conf.Client(ctx), nil
}

// clientFor returns the cached client for the credential, creating it at
// most once per clientEmail.
func (s *FCMSender) clientFor(ctx context.Context, p FCMParameter) (*http.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client, ok := s.clients[p.ClientEmail]; ok {
		return client, nil
	}
	client, err := s.newClient(ctx, p)
	if err != nil {
		return nil, err
	}
	s.clients[p.ClientEmail] = client
	s.creations++
	return client, nil
}

// Send publishes the delivery as a push to the parameter's topic.
func (s *FCMSender) Send(ctx context.Context, p FCMParameter, d Delivery) error {
	client, err := s.clientFor(ctx, p)
	if err != nil {
		return apperrors.ChannelDelivery("fcm", err)
	}

	payload := map[string]any{
		"message": map[string]any{
			"topic": p.Topic,
			"notification": map[string]string{
				"title": "Pipeline Update",
				"body":  d.Message,
			},
			"data": map[string]string{
				"location":  d.Location,
				"timestamp": d.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.ChannelDelivery("fcm", err)
	}

	url := fmt.Sprintf("%s/v1/projects/%s/messages:send", s.baseURL, p.ProjectID)

	// Only transport failures are retried; the request is rebuilt per
	// attempt so the body reader is fresh each time.
	var resp *http.Response
	err = resilience.RetryFunc(ctx, s.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		r, err := client.Do(req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return apperrors.ChannelDelivery("fcm", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.ChannelDelivery("fcm",
			fmt.Errorf("fcm answered %d: %s", resp.StatusCode, detail))
	}
	return nil
}
