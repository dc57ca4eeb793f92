// Package httpclient provides a small HTTP client with timeouts, retry, and
// status-code classification.
//
// It backs the notification channel senders (webhook, Slack, FCM) and the
// trigger endpoint's remote payload fetch. Connection-level failures and 5xx
// responses are retryable; 4xx responses are not.
package httpclient
