// Package component defines the lifecycle contract for infrastructure
// components (event bus, HTTP server, consumers) and a registry that starts
// them in order and stops them in reverse.
package component
