package errors

import (
	"fmt"
	"sort"
	"strings"
)

// FormatForCLI renders an error as the single-line structured summary the
// CLI contract requires. Causes and details stay out of the summary; they
// go to the structured logs.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	ee := Wrap(CodeFatal, err)
	return fmt.Sprintf("error: %s (%s)", ee.Message, ee.Code)
}

// FormatDetails renders the details map as sorted key=value pairs for
// log attachment. Returns "" when there are no details.
func FormatDetails(err error) string {
	ee := Wrap(CodeFatal, err)
	if ee == nil || len(ee.Details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(ee.Details))
	for k := range ee.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(ee.Details[k])
	}
	return sb.String()
}
