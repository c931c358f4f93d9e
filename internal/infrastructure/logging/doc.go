// Package logging builds the zap loggers used across the kernel.
//
// Two encodings are available:
//   - Production: JSON lines, one record per syscall or lifecycle event
//   - Development: colored console output
//
// Subsystems receive a named child logger, so kernel, memory and DTU
// records can be told apart:
//
//	logger := logging.NewDefault()
//	k, err := kernel.New(cfg, mm, kernel.WithLogger(logger.Component("kernel")))
package logging
