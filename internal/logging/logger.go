// Package logging provides the zap setup shared by every devlink package.
package logging

import (
	"time"

	"go.uber.org/zap"
)

// FuncLogger returns a logger tagged with the operation name and the time the
// operation started, so FuncExit can report how long it took.
func FuncLogger(logger *zap.Logger, funcName string) (*zap.Logger, time.Time) {
	logger = logger.With(zap.String("location", funcName))
	logger.Debug(funcName+" started")
	return logger, time.Now()
}

// FuncExit logs the exit point of an operation with its elapsed time
func FuncExit(logger *zap.Logger, start time.Time) {
	logger.Debug("function exited", zap.Duration("elapsed", time.Since(start)))
}

// SetupLogger creates the process logger. Debug mode uses the development
// encoder at debug level; otherwise JSON at info level.
// Returns logger, atomic level, and error.
func SetupLogger(debug bool) (*zap.Logger, zap.AtomicLevel, error) {
	var atom zap.AtomicLevel
	var config zap.Config

	if debug {
		atom = zap.NewAtomicLevelAt(zap.DebugLevel)
		config = zap.NewDevelopmentConfig()
	} else {
		atom = zap.NewAtomicLevelAt(zap.InfoLevel)
		config = zap.NewProductionConfig()
	}

	config.Level = atom
	logger, err := config.Build()
	if err != nil {
		return nil, atom, err
	}
	return logger.Named("devlink"), atom, nil
}
