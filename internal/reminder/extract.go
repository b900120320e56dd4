// Package reminder implements reminder directive extraction, scheduling,
// and delivery for the document pipeline.
//
// The editor embeds inline markers in document content:
//
//	[[remind: tomorrow 9am | iso=2025-01-02T09:00:00Z]]
//	[[remind: after the launch]]
//
// The first form carries the editor-resolved absolute time; the second is
// unresolved free text. Unresolved reminders are stored so they stay
// visible and editable, but are never scheduled until a later edit
// resolves them.
package reminder

import (
	"regexp"
	"strings"
	"time"

	"github.com/searchhub/searchhub/internal/model"
)

// directiveRe matches one inline reminder marker. Group 1 is the human
// text, group 2 the optional iso attribute.
var directiveRe = regexp.MustCompile(`\[\[remind:([^|\]]*)(?:\|\s*iso=([^\]\s]+)\s*)?\]\]`)

// ExtractRemindCommands scans content for reminder directives and returns
// structured payloads. Pure: no side effects, input never mutated.
// Tolerates zero, one, or many directives; a directive whose time cannot
// be resolved is still returned with a nil WhenISO.
func ExtractRemindCommands(content string) []model.RemindPayload {
	matches := directiveRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	payloads := make([]model.RemindPayload, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		whenText := strings.TrimSpace(m[1])
		if whenText == "" {
			continue
		}
		// Duplicate directives with identical text are one reminder.
		if seen[whenText] {
			continue
		}
		seen[whenText] = true

		p := model.RemindPayload{
			Status:   model.ReminderScheduled,
			WhenText: whenText,
		}
		if m[2] != "" {
			if t, err := time.Parse(time.RFC3339, m[2]); err == nil {
				t = t.UTC()
				p.WhenISO = &t
			}
		}
		payloads = append(payloads, p)
	}
	return payloads
}
