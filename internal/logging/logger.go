package logging

import (
	"errors"
	"os"
	"syscall"

	"go.uber.org/zap"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

func New(env string) (*zap.Logger, error) {
	switch env {
	case EnvProduction:
		return zap.NewProduction()
	case EnvDevelopment:
		return zap.NewDevelopment()
	default:
		return zap.NewExample(), nil
	}
}

// Sync flushes the logger, ignoring the EINVAL stdout/stderr return on
// terminals that cannot be synced.
func Sync(log *zap.Logger) error {
	err := log.Sync()
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && (errors.Is(pathErr.Err, syscall.EINVAL) || errors.Is(pathErr.Err, syscall.ENOTTY)) {
		return nil
	}
	return err
}
