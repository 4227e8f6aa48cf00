package log

import "testing"

// SetDefault should properly set the default logger when custom loggers
// are provided.
func TestSetDefaultCustomLogger(t *testing.T) {
	type customLogger struct {
		Logger
	}

	custom := &customLogger{Logger: Root()}
	SetDefault(custom)
	if Root() != Logger(custom) {
		t.Error("expected custom logger to be set as default")
	}
}
