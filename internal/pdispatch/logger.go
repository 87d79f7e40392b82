package pdispatch

import "github.com/driftsound/driftsound/internal/logger"

// GetLogger returns the pdispatch package logger scoped to the
// "pdispatch" module, fetched fresh from the global logger each call so
// it tracks whatever central logger cmd/driftsoundd installed at startup.
func GetLogger() logger.Logger {
	return logger.Global().Module("pdispatch")
}
