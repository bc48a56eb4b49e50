package persistence

import (
	"encoding/json"
	"regexp"
	"strings"
)

var pyLiteralWord = regexp.MustCompile(`\b(True|False|None)\b`)

// identWrapper matches a value entirely wrapped in a single identifier call,
// e.g. "ImmutableMutableProxy([...])" — the repr a prior process's
// serialized in-memory proxy objects leave behind instead of a plain
// list/dict literal.
var identWrapper = regexp.MustCompile(`^\s*\w+\((.*)\)\s*$`)

// stripIdentWrappers peels off successive outer wrapper calls (proxies can
// nest one inside another) until the string no longer matches the pattern.
func stripIdentWrappers(s string) string {
	for {
		m := identWrapper.FindStringSubmatch(s)
		if m == nil {
			return s
		}
		s = m[1]
	}
}

// recoverField attempts to repair a field that landed on disk as a
// stringified Python repr instead of a JSON object/array — the shape left
// behind when a prior process serialized its in-memory proxy objects with
// str() instead of a real JSON encoder. raw is the original field value as
// read from disk; wantArray selects whether the recovered value must decode
// to a JSON array (true) or object (false). Returns the repaired value and
// true, or false if the field could not be recovered and should reset to
// its zero value.
func recoverField(raw json.RawMessage, wantArray bool) (json.RawMessage, bool) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return nil, false
	}
	asString = stripIdentWrappers(asString)

	candidate := pyLiteralWord.ReplaceAllStringFunc(asString, func(tok string) string {
		switch tok {
		case "True":
			return "true"
		case "False":
			return "false"
		default:
			return "null"
		}
	})
	candidate = strings.ReplaceAll(candidate, "'", `"`)

	if wantArray {
		var v []json.RawMessage
		if err := json.Unmarshal([]byte(candidate), &v); err != nil {
			return nil, false
		}
	} else {
		var v map[string]json.RawMessage
		if err := json.Unmarshal([]byte(candidate), &v); err != nil {
			return nil, false
		}
	}
	return json.RawMessage(candidate), true
}
