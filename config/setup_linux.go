//go:build linux

package config

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"text/template"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
)

// ConfigureTimezone fills in the timezone when the configuration leaves it
// empty and validates whatever ends up being used. Detection tries the TZ
// environment variable, /etc/timezone and timedatectl in that order before
// settling on UTC.
func ConfigureTimezone() error {
	if _config.System.Timezone == "" {
		_config.System.Timezone = detectTimezone()
	}

	// Strip anything a zone name cannot contain, /etc/timezone ends in a
	// newline and timedatectl output has seen trailing garbage.
	_config.System.Timezone = regexp.MustCompile(`(?i)[^a-z_/]+`).ReplaceAllString(_config.System.Timezone, "")
	_, err := time.LoadLocation(_config.System.Timezone)
	return errors.WithMessage(err, fmt.Sprintf("the supplied timezone %s is invalid", _config.System.Timezone))
}

func detectTimezone() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return tz
	}
	if b, err := os.ReadFile("/etc/timezone"); err == nil {
		return string(b)
	}

	// Debian keeps /etc/timezone, most other distributions only expose the
	// zone through systemd.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	out, err := exec.CommandContext(ctx, "timedatectl").Output()
	if err != nil {
		log.WithField("error", err).Warn("failed to execute \"timedatectl\" to determine system timezone, falling back to UTC")
		return "UTC"
	}
	if m := regexp.MustCompile(`Time zone: ([\w/]+)`).FindSubmatch(out); len(m) == 2 && len(m[1]) > 0 {
		return string(m[1])
	}
	log.Warn("failed to parse timezone from \"timedatectl\" output, falling back to UTC")
	return "UTC"
}

// EnableLogRotation writes a logrotate file for the engine to the system
// logrotate configuration directory if one exists and a logrotate file is not
// found. The engine usually runs as a regular desktop user without write
// access to /etc, that is treated as a skip rather than a failure.
func EnableLogRotation() error {
	if !_config.System.EnableLogRotate {
		log.Info("skipping log rotate configuration, disabled in config file")
		return nil
	}

	if st, err := os.Stat("/etc/logrotate.d"); err != nil && !os.IsNotExist(err) {
		return err
	} else if (err != nil && os.IsNotExist(err)) || !st.IsDir() {
		return nil
	}
	if _, err := os.Stat("/etc/logrotate.d/emm"); err == nil || !os.IsNotExist(err) {
		return err
	}

	log.Info("no log rotation configuration found: adding file now")
	f, err := os.Create("/etc/logrotate.d/emm")
	if err != nil {
		if os.IsPermission(err) {
			log.Debug("no permission to write logrotate configuration, skipping")
			return nil
		}
		return err
	}
	defer f.Close()

	t, err := template.New("logrotate").Parse(`{{.LogDirectory}}/emm.log {
    size 10M
    compress
    delaycompress
    dateext
    maxage 7
    missingok
    notifempty
    copytruncate
}`)
	if err != nil {
		return err
	}

	return errors.Wrap(t.Execute(f, _config.System), "config: failed to write logrotate to disk")
}
