/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		env      string
		override string
		want     zerolog.Level
	}{
		{"production", "", zerolog.InfoLevel},
		{"development", "", zerolog.DebugLevel},
		{"Development", "", zerolog.DebugLevel},
		{"production", "warn", zerolog.WarnLevel},
		{"development", "ERROR", zerolog.ErrorLevel},
		{"development", "loud", zerolog.DebugLevel},
	}
	for _, tt := range tests {
		t.Setenv("COLLEXIONS_LOG_LEVEL", tt.override)
		if got := levelFor(tt.env); got != tt.want {
			t.Errorf("levelFor(%q) with override %q = %v, want %v", tt.env, tt.override, got, tt.want)
		}
	}
}

func TestSetupWithWriterCopiesJSON(t *testing.T) {
	t.Setenv("COLLEXIONS_LOG_LEVEL", "")
	var buf bytes.Buffer
	logger := SetupWithWriter("production", &buf)

	logger.Debug().Msg("hidden")
	logger.Info().Str("library", "Movies").Msg("pinned collection")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked at info level: %s", out)
	}
	if !strings.Contains(out, `"library":"Movies"`) || !strings.Contains(out, "pinned collection") {
		t.Fatalf("additional writer output = %s", out)
	}
}
