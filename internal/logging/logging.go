package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// LogFilePath builds a per-session log file path under logsDir.
func LogFilePath(logsDir, instanceName string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", instanceName, sessionStart.Format("20060102_150405")),
	)
}
