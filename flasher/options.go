package flasher

import (
	"time"

	"github.com/JoshuaDoes/logger"
)

// Progress reports flash progress for one in-flight member. Reports are
// spaced at least 500ms apart, except that a member's completion
// (BytesSent == BytesTotal) is always reported.
type Progress struct {
	CurrentMember string
	BytesSent     uint64
	BytesTotal    uint64
	Percentage    float64
}

// ProgressFunc receives Progress updates during Flash.
type ProgressFunc func(Progress)

// progressInterval is the minimum spacing between progress callbacks,
// not applied to a member's completion report.
const progressInterval = 500 * time.Millisecond

// Config holds orchestrator-wide settings.
type Config struct {
	Logger        *logger.Logger
	Timeout       time.Duration
	OnProgress    ProgressFunc
	WithoutReboot bool
}

func defaultConfig() Config {
	return Config{
		Logger:  logger.NewLogger("odin-flash", 1),
		Timeout: 60 * time.Second,
	}
}

// Option configures a Flasher.
type Option func(*Config)

// WithLogger sets the logger used for all orchestrator and session
// output. A nil log falls back to a quiet default so callers never need
// to nil-check before logging.
func WithLogger(log *logger.Logger) Option {
	return func(c *Config) {
		if log == nil {
			log = logger.NewLogger("odin-flash", 0)
		}
		c.Logger = log
	}
}

// WithTimeout sets the command reply timeout applied to most round trips.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithProgressCallback sets a callback invoked during Flash.
func WithProgressCallback(cb ProgressFunc) Option {
	return func(c *Config) {
		c.OnProgress = cb
	}
}

// WithoutReboot skips the reboot phase after a successful flash,
// leaving the device in Download Mode.
func WithoutReboot() Option {
	return func(c *Config) {
		c.WithoutReboot = true
	}
}
