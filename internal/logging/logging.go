/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process.
func Setup(environment string) zerolog.Logger {
	return SetupWithWriter(environment, nil)
}

// SetupWithWriter configures zerolog with an additional JSON writer, such as
// the in-memory log buffer behind the logs endpoint.
func SetupWithWriter(environment string, additionalWriter io.Writer) zerolog.Logger {
	return setup(environment, os.Stdout, additionalWriter)
}

// SetupStderr logs to stderr so that stdout carries only command output.
func SetupStderr(environment string) zerolog.Logger {
	return setup(environment, os.Stderr, nil)
}

func setup(environment string, out, additionalWriter io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var writer io.Writer = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	if additionalWriter != nil {
		writer = zerolog.MultiLevelWriter(writer, additionalWriter)
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(levelFor(environment))
	log.Logger = logger
	return logger
}

// levelFor maps the environment name to a log level. COLLEXIONS_LOG_LEVEL
// overrides it when set to a valid zerolog level.
func levelFor(environment string) zerolog.Level {
	if raw := strings.TrimSpace(os.Getenv("COLLEXIONS_LOG_LEVEL")); raw != "" {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			return lvl
		}
	}
	if strings.EqualFold(environment, "development") {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
