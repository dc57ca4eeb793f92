// Package resilience provides retry and bulkhead primitives.
//
// Retry wraps an operation with bounded attempts and exponential backoff.
// Bulkhead caps the number of concurrent executions of an operation so a
// slow dependency (or a pathological sandbox script) cannot occupy every
// worker in the process.
package resilience
