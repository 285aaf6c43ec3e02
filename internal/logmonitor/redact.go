package logmonitor

import "regexp"

const redactedPlaceholder = "[REDACTED]"

// redaction pairs a pattern with its replacement template. Patterns that
// capture a leading label (e.g. "Bearer ", "token=") keep the label and
// replace only the secret itself.
type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

// redactions matches substrings that look like credentials or opaque
// identifiers that should never reach a callback event (§4.3: log lines are
// scanned and sensitive material is redacted before forwarding).
var redactions = []redaction{
	{
		pattern:     regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]{8,}`),
		replacement: "${1}" + redactedPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`(?i)((?:api[_-]?key|token|secret|password|passwd)\s*[:=]\s*)["']?[A-Za-z0-9._~+/=-]{6,}["']?`),
		replacement: "${1}" + redactedPlaceholder,
	},
	{
		// Long opaque hex identifiers (session ids, hashes) carry no label to
		// preserve.
		pattern:     regexp.MustCompile(`\b[A-Fa-f0-9]{32,}\b`),
		replacement: redactedPlaceholder,
	},
}

// Redact replaces credential-shaped and opaque-identifier-shaped substrings
// of line with a fixed placeholder. It is intentionally conservative: a
// false positive (over-redacting) is preferred to leaking a secret.
func Redact(line string) string {
	out := line
	for _, r := range redactions {
		out = r.pattern.ReplaceAllString(out, r.replacement)
	}
	return out
}
