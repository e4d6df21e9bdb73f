package logging

import (
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
)

var sentryEnabled bool

// InitSentry initializes Sentry for crash reporting when the user opted in and
// a DSN is available. CARD_GATEWAY_SENTRY=1/0 overrides the opt-in and
// CARD_GATEWAY_SENTRY_DSN overrides dsn. There is no built-in DSN.
func InitSentry(version string, crashReportingEnabled bool, dsn string) bool {
	enabled := crashReportingEnabled
	switch os.Getenv("CARD_GATEWAY_SENTRY") {
	case "1":
		enabled = true
	case "0":
		enabled = false
	}
	if !enabled {
		return false
	}

	if env := os.Getenv("CARD_GATEWAY_SENTRY_DSN"); env != "" {
		dsn = env
	}
	if dsn == "" {
		Warn(CatSystem, "Crash reporting enabled but no Sentry DSN configured", nil)
		return false
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          "card-gateway@" + version,
		Environment:      sentryEnvironment(),
		AttachStacktrace: true,
		TracesSampleRate: 0.0,
	})
	if err != nil {
		Warn(CatSystem, "Failed to initialize Sentry", map[string]any{"error": err.Error()})
		return false
	}

	sentryEnabled = true
	return true
}

func sentryEnvironment() string {
	if env := os.Getenv("CARD_GATEWAY_ENVIRONMENT"); env != "" {
		return env
	}
	return "production"
}

// SentryEnabled returns whether Sentry is currently enabled.
func SentryEnabled() bool {
	return sentryEnabled
}

// FlushSentry flushes any buffered events to Sentry.
// Call this before application exit.
func FlushSentry(timeout time.Duration) {
	if sentryEnabled {
		sentry.Flush(timeout)
	}
}

// CapturePanic sends a panic to Sentry along with the stack trace.
// This should be called from recover() handlers.
func CapturePanic(panicValue any, stack []byte, context string) {
	if !sentryEnabled {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("panic_context", context)
		scope.SetExtra("stack_trace", string(stack))
		scope.SetLevel(sentry.LevelFatal)

		switch v := panicValue.(type) {
		case error:
			sentry.CaptureException(v)
		case string:
			sentry.CaptureMessage(v)
		default:
			sentry.CaptureMessage(fmt.Sprintf("%v", v))
		}
	})

	// Flush immediately for panics since app may crash
	sentry.Flush(2 * time.Second)
}

// CaptureError sends an error to Sentry.
func CaptureError(err error, context string, data map[string]any) {
	if !sentryEnabled || err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_context", context)
		for k, v := range data {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// CaptureMessage sends a message to Sentry at the matching severity.
func CaptureMessage(message string, level Level, data map[string]any) {
	if !sentryEnabled {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level.sentry())
		for k, v := range data {
			scope.SetExtra(k, v)
		}
		sentry.CaptureMessage(message)
	})
}

func (l Level) sentry() sentry.Level {
	switch l {
	case LevelDebug:
		return sentry.LevelDebug
	case LevelWarn:
		return sentry.LevelWarning
	case LevelError:
		return sentry.LevelError
	}
	return sentry.LevelInfo
}
