package custody

// Sanitizer lets the host app redact access-log entries before they are
// recorded, e.g. to mask client addresses. Default is no-op.
type Sanitizer interface {
	SanitizeAccess(a AccessEntry) AccessEntry
}

type NoopSanitizer struct{}

func (NoopSanitizer) SanitizeAccess(a AccessEntry) AccessEntry { return a }

// SanitizerFunc adapts a plain function to Sanitizer.
type SanitizerFunc func(AccessEntry) AccessEntry

func (f SanitizerFunc) SanitizeAccess(a AccessEntry) AccessEntry { return f(a) }
