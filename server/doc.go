// Package server provides the HTTP surface shared by the service binaries:
// a Gin engine with recovery, request-id, and request-logging middleware, a
// component-health endpoint, and graceful shutdown as a lifecycle component.
package server
