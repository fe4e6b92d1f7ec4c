// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package submit

import (
	"log/slog"

	"github.com/gogpu/ringq"
)

// slogger returns the shared ringq logger.
func slogger() *slog.Logger { return ringq.Logger() }
