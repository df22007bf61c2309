// internal/app/bootstrap/shutdown.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Shutdown runs during WAFFLE's shutdown phase, after the HTTP server has
// stopped accepting requests and in-flight requests have drained.
//
// The maintenance task runner is stopped first so no pruning or drift-check
// job is mid-write when the MongoDB client disconnects. The provided context
// carries the shutdown timeout; a job that ignores it is abandoned rather
// than blocking exit.
//
// Errors are collected but do not abort the remaining steps; the first one
// is returned so WAFFLE can log an unclean shutdown.
func Shutdown(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	var firstErr error

	if taskRunner != nil {
		logger.Info("stopping background task runner")
		if err := taskRunner.Stop(ctx); err != nil {
			logger.Warn("background task runner did not stop cleanly", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if deps.MongoClient != nil {
		logger.Info("disconnecting MongoDB client")
		if err := deps.MongoClient.Disconnect(ctx); err != nil {
			logger.Error("MongoDB disconnect failed", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}
