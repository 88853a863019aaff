package muninn

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/muninndb/muninn/pkg/config"
)

// logLevels orders diagnostic severities for threshold filtering.
var logLevels = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
}

// diagLogger adapts the Logging config section to the storage layer's
// diagnostics interface: events below the configured level are dropped,
// the rest render as text or JSON lines through the standard logger.
type diagLogger struct {
	min    int
	format string
}

func newDiagLogger(cfg config.LoggingConfig) *diagLogger {
	min, ok := logLevels[strings.ToLower(cfg.Level)]
	if !ok {
		min = logLevels["info"]
	}
	return &diagLogger{min: min, format: strings.ToLower(cfg.Format)}
}

func (l *diagLogger) Log(level, msg string, fields map[string]any) {
	rank, ok := logLevels[level]
	if !ok {
		rank = logLevels["info"]
	}
	if rank < l.min {
		return
	}

	if l.format == "json" {
		payload := map[string]any{"level": level, "msg": msg}
		for k, v := range fields {
			payload[k] = v
		}
		if b, err := json.Marshal(payload); err == nil {
			log.Printf("%s", b)
			return
		}
	}

	var sb strings.Builder
	sb.WriteString(level)
	sb.WriteByte(' ')
	sb.WriteString(msg)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, fields[k])
	}
	log.Print(sb.String())
}
