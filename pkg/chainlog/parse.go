// =============================================================================
// pkg/chainlog/parse.go - Log Line Field Extraction
// =============================================================================
//
// Low-level helpers shared by the entity parsers in this package. Log lines
// are parsed by substring anchors rather than a grammar: each marker phrase
// implies a fixed set of "prefix...suffix" fields, and a missing field on a
// line that carries the marker is a format mismatch, not a skippable event.
//
// =============================================================================

package chainlog

import (
	"fmt"
	"strings"
	"time"

	"github.com/conflux-perf/chain-latency-analyzer/helpers"
)

// rawLogName is the conventional file name of a node's raw log. Lines that
// were concatenated with their source path (grep-style "path:line") carry a
// "<path>/conflux.log:" prefix ahead of the timestamp.
const rawLogName = "conflux.log"

// ParseError reports a malformed field on a line that carried a recognized
// marker phrase. It is fatal to the file being processed.
type ParseError struct {
	Reason string
	Line   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s, log line = %s", e.Reason, strings.TrimRight(e.Line, "\n"))
}

func parseErrorf(line, format string, args ...interface{}) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...), Line: line}
}

// ParseField extracts the substring between prefix and suffix. An empty
// prefix anchors at the start of the line; an empty suffix extends to the
// end. A prefix or suffix that does not occur is a ParseError.
func ParseField(line, prefix, suffix string) (string, error) {
	start := 0
	if prefix != "" {
		idx := strings.Index(line, prefix)
		if idx < 0 {
			return "", parseErrorf(line, "field prefix %q not found", prefix)
		}
		start = idx + len(prefix)
	}

	end := len(line)
	if suffix != "" {
		idx := strings.Index(line[start:], suffix)
		if idx < 0 {
			return "", parseErrorf(line, "field suffix %q not found after %q", suffix, prefix)
		}
		end = start + idx
	}

	return line[start:end], nil
}

// logTimestampLayouts are the timestamp forms node logs have been observed
// to emit. The field runs to the first space, so only the T-separated forms
// can occur.
var logTimestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseLogTimestamp extracts the leading timestamp of a log line and returns
// it as Unix seconds rounded to 2 decimals. Lines prefixed with their source
// path ("<path>/conflux.log:") are handled transparently.
func ParseLogTimestamp(line string) (float64, error) {
	prefix := ""
	if strings.Contains(line, "/"+rawLogName+":") {
		prefix = "/" + rawLogName + ":"
	}

	field, err := ParseField(line, prefix, " ")
	if err != nil {
		return 0, err
	}

	for _, layout := range logTimestampLayouts {
		t, err := time.ParseInLocation(layout, field, time.Local)
		if err == nil {
			sec := float64(t.UnixNano()) / float64(time.Second)
			return helpers.Round2(sec), nil
		}
	}

	return 0, parseErrorf(line, "unrecognized log timestamp %q", field)
}
