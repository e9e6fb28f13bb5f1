package config

import (
	"reflect"

	"github.com/MrWong99/readalong/internal/align"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; they apply to
// sessions started after the reload.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdsChanged bool
	NewThresholds     align.Thresholds

	DeadlinesChanged bool
	NewWatchdog      WatchdogConfig

	// RestartRequired names changed sections that only take effect after a
	// restart, such as "providers" or "store".
	RestartRequired []string
}

// Changed reports whether anything hot-reloadable changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ThresholdsChanged || d.DeadlinesChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Aligner.Thresholds != new.Aligner.Thresholds {
		d.ThresholdsChanged = true
		d.NewThresholds = new.Aligner.Thresholds
	}

	if old.Watchdog.Config() != new.Watchdog.Config() {
		d.DeadlinesChanged = true
		d.NewWatchdog = new.Watchdog
	}

	for _, sec := range []struct {
		name     string
		old, new any
	}{
		{"server.listen_addr", old.Server.ListenAddr, new.Server.ListenAddr},
		{"server.tls", old.Server.TLS, new.Server.TLS},
		{"providers", old.Providers, new.Providers},
		{"store", old.Store, new.Store},
		{"notify", old.Notify, new.Notify},
	} {
		if !reflect.DeepEqual(sec.old, sec.new) {
			d.RestartRequired = append(d.RestartRequired, sec.name)
		}
	}

	return d
}
