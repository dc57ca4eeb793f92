// Package events defines the topics and message payloads exchanged between
// the pipeline and notification services. Every struct here maps one to one
// onto a JSON message on the bus.
package events
