// Package logger provides structured logging for outbound components
// using zerolog.
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
//	log := logger.NewDefault().WithComponent("apiclient")
//	log.Info("client ready", logger.Fields("client", "forensics"))
package logger
