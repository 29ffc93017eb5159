package daemon

import (
	"log/slog"
	"time"
)

// Options configures a Supervisor's lifecycle, mirroring the shape of
// the teacher's atlas.Options.
type Options struct {
	Logger          *slog.Logger
	ShutdownTimeout time.Duration
}

var DefaultOptions = Options{
	Logger:          slog.Default(),
	ShutdownTimeout: 10 * time.Second,
}
