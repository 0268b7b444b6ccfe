package logger

import "fmt"

// LogMessage formats args per format and routes the result to the
// matching syslog-priority function below, the same fmt.Sprintf-then-
// Log*() pattern the teacher uses at every call site (xsd.go, xs.go)
// collapsed into one call so the session core and services don't need to
// spell out the two-step version themselves. level is one of "debug",
// "info", "notice", "warn"/"warning", "err"/"error", "crit", "alert",
// "emerg"; an unrecognized level falls back to LogNotice.
func LogMessage(level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	switch level {
	case "debug":
		_ = LogDebug(msg)
	case "info":
		_ = LogInfo(msg)
	case "notice":
		_ = LogNotice(msg)
	case "warn", "warning":
		_ = LogWarning(msg)
	case "err", "error":
		_ = LogErr(msg)
	case "crit":
		_ = LogCrit(msg)
	case "alert":
		_ = Alert(msg)
	case "emerg":
		_ = LogEmerg(msg)
	default:
		_ = LogNotice(msg)
	}
}
