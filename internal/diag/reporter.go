// Package diag writes best-effort plain-text diagnostic reports. Nothing
// here may fail the caller: every write returns a bool the caller is free
// to ignore, and the reporter never panics or logs on its own behalf.
package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Field is one key=value line in a report.
type Field struct {
	Key   string
	Value string
}

// Reporter writes timestamped report files into a single directory. It is
// an explicit dependency of the runtime rather than process-global state.
type Reporter struct {
	outputDirectory string
}

func NewReporter(outputDirectory string) *Reporter {
	if outputDirectory == "" {
		outputDirectory = DefaultDirectory()
	}
	return &Reporter{outputDirectory: outputDirectory}
}

// DefaultDirectory honors DRUMBOX_DIAGNOSTICS_DIR, else ./diagnostics.
func DefaultDirectory() string {
	if configured := os.Getenv("DRUMBOX_DIAGNOSTICS_DIR"); configured != "" {
		return configured
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "diagnostics"
	}
	return filepath.Join(cwd, "diagnostics")
}

func (r *Reporter) OutputDirectory() string { return r.outputDirectory }

// WriteRuntimeReport records an operational snapshot.
func (r *Reporter) WriteRuntimeReport(name string, fields []Field) bool {
	payload := make([]Field, 0, len(fields)+1)
	payload = append(payload, Field{"report_type", "runtime"})
	payload = append(payload, fields...)
	return r.writeReport("runtime", name, payload)
}

// WriteCrashReport records a fatal condition before the process exits.
func (r *Reporter) WriteCrashReport(reason, message string, fields []Field) bool {
	payload := make([]Field, 0, len(fields)+3)
	payload = append(payload,
		Field{"report_type", "crash"},
		Field{"crash_reason", reason},
		Field{"crash_message", message})
	payload = append(payload, fields...)
	return r.writeReport("crash", "crash_report", payload)
}

func (r *Reporter) writeReport(category, name string, fields []Field) bool {
	if err := os.MkdirAll(r.outputDirectory, 0o755); err != nil {
		return false
	}

	categoryToken := sanitizeToken(category)
	nameToken := sanitizeToken(name)
	if nameToken == "" {
		nameToken = "report"
	}

	now := time.Now().UTC()
	fileName := fmt.Sprintf("%s_%s_%s_%d.log",
		categoryToken, nameToken, now.Format("20060102T150405Z"), os.Getpid())
	outputPath := filepath.Join(r.outputDirectory, fileName)

	var b strings.Builder
	b.WriteString("format_version=1\n")
	fmt.Fprintf(&b, "category=%s\n", categoryToken)
	fmt.Fprintf(&b, "name=%s\n", nameToken)
	fmt.Fprintf(&b, "timestamp_utc=%s\n", now.Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(&b, "pid=%d\n", os.Getpid())
	for _, field := range fields {
		fmt.Fprintf(&b, "%s=%s\n", sanitizeToken(field.Key), sanitizeValue(field.Value))
	}

	return os.WriteFile(outputPath, []byte(b.String()), 0o644) == nil
}

func sanitizeToken(input string) string {
	var out strings.Builder
	out.Grow(len(input))
	for _, c := range input {
		allowed := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '_' || c == '-' || c == '.'
		if allowed {
			out.WriteRune(c)
		} else {
			out.WriteByte('_')
		}
	}
	if out.Len() == 0 {
		return "unknown"
	}
	return out.String()
}

func sanitizeValue(input string) string {
	return strings.Map(func(c rune) rune {
		if c == '\n' || c == '\r' {
			return ' '
		}
		return c
	}, input)
}
