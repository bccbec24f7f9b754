package hooks

import (
	"runtime/debug"
	"strings"

	log "github.com/sirupsen/logrus"
)

// contextHook annotates every entry with the file:line of the caller that
// emitted it, trimmed to the path inside this repository.
type contextHook struct{}

func NewContextHook() contextHook {
	return contextHook{}
}

func (hook contextHook) Levels() []log.Level {
	return log.AllLevels
}

func (hook contextHook) Fire(entry *log.Entry) error {
	lines := strings.Split(string(debug.Stack()), "\n")
	// Frames come in pairs (function, file:line). Skip everything up to and
	// including logrus itself, then take the first file line after it.
	inLogrus := false
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.Contains(line, "sirupsen/logrus") {
			inLogrus = true
			continue
		}
		if !inLogrus || !strings.HasPrefix(line, "\t") {
			continue
		}
		ctx := strings.Split(line, "ert/")
		entry.Data["file:line"] = strings.TrimSpace(strings.Split(ctx[len(ctx)-1], " +")[0])
		return nil
	}
	return nil
}
