package notify

import (
	"fmt"
	"html"
	"strings"

	"revision-planner/internal/schedule"
)

const dateLayout = "Mon, 02 Jan 2006"

func revisionLabel(d schedule.DueRevision) string {
	if d.IsFirstRevision {
		return "First revision"
	}
	return fmt.Sprintf("Revision %d", d.Ordinal)
}

// Digest renders the plain-text subject and body of a reminder.
func Digest(to Recipient, due []schedule.DueRevision) (string, string) {
	subject := fmt.Sprintf("%d revision(s) due today", len(due))
	if len(due) == 1 {
		subject = fmt.Sprintf("Time to revise: %s", strings.TrimSpace(due[0].Title))
	}

	var b strings.Builder
	name := strings.TrimSpace(to.DisplayName)
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	b.WriteString("These revisions are due today:\n\n")
	for _, d := range due {
		fmt.Fprintf(&b, "- %s (%s, %s)\n", strings.TrimSpace(d.Title), revisionLabel(d),
			d.ScheduledDate.In(to.location()).Format(dateLayout))
		if notes := strings.TrimSpace(d.Notes); notes != "" {
			fmt.Fprintf(&b, "  %s\n", notes)
		}
	}
	b.WriteString("\nKeep the streak going.\n")
	return subject, b.String()
}

// DigestHTML renders the digest for chat clients that accept basic HTML.
func DigestHTML(to Recipient, due []schedule.DueRevision) string {
	if len(due) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("📚 <b>Revisions due today</b>\n")
	fmt.Fprintf(&b, "🗓 %s\n\n", due[0].ScheduledDate.In(to.location()).Format("02.01.2006"))
	for _, d := range due {
		icon := "🔁"
		if d.IsFirstRevision {
			icon = "🆕"
		}
		fmt.Fprintf(&b, "%s %s <i>(%s)</i>\n", icon, html.EscapeString(strings.TrimSpace(d.Title)), revisionLabel(d))
		if notes := strings.TrimSpace(d.Notes); notes != "" {
			fmt.Fprintf(&b, "   📝 %s\n", html.EscapeString(notes))
		}
	}
	return strings.TrimSpace(b.String())
}
