package config

// ConfigDiff describes what changed between two configs. Only the server log
// level can be applied to a running process; any other change requires a
// restart because the model topology and trained weights are fixed at
// construction.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired is true when anything besides the log level differs.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	a, b := *old, *new
	a.Server.LogLevel = ""
	b.Server.LogLevel = ""
	d.RestartRequired = a != b

	return d
}
