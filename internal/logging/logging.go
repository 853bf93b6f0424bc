/*
 * termswx: serial terminal switch
 * Copyright 2019 Daniel Selifonov
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package logging builds the zerolog root logger termswx's components
// each take a ".With().Str("component", ...)" sub-logger from.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// LevelForVerbosity maps the -v repeat count (0..5) to a zerolog level,
// mirroring the original's off/error/warn/info/debug/trace ladder.
func LevelForVerbosity(v int) zerolog.Level {
	switch {
	case v <= 0:
		return zerolog.Disabled
	case v == 1:
		return zerolog.ErrorLevel
	case v == 2:
		return zerolog.WarnLevel
	case v == 3:
		return zerolog.InfoLevel
	case v == 4:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// New opens (or creates) the trace file at path and returns a logger at
// the level implied by verbosity. When path is empty, logging is
// disabled and writes are discarded — the console, not this logger,
// owns stdout/stderr.
func New(path string, verbosity int) (zerolog.Logger, error) {
	level := LevelForVerbosity(verbosity)
	if path == "" || level == zerolog.Disabled {
		return zerolog.New(io.Discard).Level(zerolog.Disabled), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Logger{}, err
	}
	return zerolog.New(f).Level(level).With().Timestamp().Logger(), nil
}
