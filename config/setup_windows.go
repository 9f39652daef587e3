//go:build windows

package config

import (
	"fmt"
	"time"

	"emperror.dev/errors"
)

// ConfigureTimezone validates the configured timezone, defaulting to the
// system local zone. Windows has no /etc/timezone to probe, Go resolves
// "Local" through the registry instead.
func ConfigureTimezone() error {
	if _config.System.Timezone == "" {
		_config.System.Timezone = "Local"
	}
	_, err := time.LoadLocation(_config.System.Timezone)
	return errors.WithMessage(err, fmt.Sprintf("the supplied timezone %s is invalid", _config.System.Timezone))
}

// EnableLogRotation is a no-op, logrotate does not exist on Windows. Users
// who need rotation there can point an external tool at the log directory.
func EnableLogRotation() error {
	return nil
}
