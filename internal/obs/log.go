package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var shared = struct {
	once   sync.Once
	logger *log.Logger
}{}

// Logger returns the process-wide structured logger. All packages write
// JSON lines through it so output stays machine-parseable.
func Logger() *log.Logger {
	shared.once.Do(func() {
		shared.logger = log.New(os.Stdout, "", 0)
	})
	return shared.logger
}

// LogRequest emits one JSON log line built from the given fields.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"ts":"error","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}

// LogError emits a structured error line. Used where the caller must not see
// the underlying error message.
func LogError(msg string, err error) {
	entry := map[string]any{
		"level": "error",
		"msg":   msg,
	}
	if err != nil {
		entry["error"] = err.Error()
	}
	LogRequest(entry)
}
