// Package logger provides structured logging for datarill services using
// zerolog.
//
// It supports JSON and console output, log level configuration, and
// component-scoped loggers with structured fields.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.Get("eventbus")
//	log.Info("queue bound", map[string]interface{}{"queue": name})
package logger
