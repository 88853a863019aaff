package storage

import (
	"encoding/json"
	"log"
)

// WALLogger receives structured diagnostics from WAL recovery and corruption
// handling. It is deliberately minimal so storage stays decoupled from any
// particular logging library; implementations should treat the field names
// as a stable machine-readable contract.
type WALLogger interface {
	Log(level string, msg string, fields map[string]any)
}

type defaultWALLogger struct{}

func (defaultWALLogger) Log(level string, msg string, fields map[string]any) {
	payload := map[string]any{
		"level": level,
		"msg":   msg,
	}
	for k, v := range fields {
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[wal] level=%s msg=%s fields=%v", level, msg, fields)
		return
	}
	log.Printf("[wal] %s", string(b))
}
