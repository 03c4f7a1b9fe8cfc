// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ConfigureLogging sets up the standard logger that every package logs through.
func ConfigureLogging(cfg LogConfiguration) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return errors.Wrap(ErrConfiguration, "log.ParseLevel(): "+err.Error())
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	switch cfg.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return errors.Wrapf(ErrConfiguration, "unknown log format %q", cfg.Format)
	}
	return nil
}
