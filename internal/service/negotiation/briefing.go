package negotiation

import (
	"fmt"
	"strings"
	"time"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
)

// buildBriefing renders the meeting description from lead metadata and its recent
// interactions. history is newest first; the briefing lists it oldest first.
func buildBriefing(lead *domain.Lead, history []domain.Interaction, truncateAt int, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Lead: %s (%s)\n", orDash(lead.ContactName), orDash(lead.CompanyName))
	fmt.Fprintf(&b, "Segmento: %s\n", orDash(lead.Segment))
	fmt.Fprintf(&b, "Porte: %s\n", orDash(lead.CompanySize))
	if len(lead.Objections) > 0 {
		fmt.Fprintf(&b, "Objeções: %s\n", strings.Join(lead.Objections, "; "))
	} else {
		b.WriteString("Objeções: -\n")
	}

	b.WriteString("\nHistórico recente:\n")
	if len(history) == 0 {
		b.WriteString("- sem interações registradas\n")
	}
	for i := len(history) - 1; i >= 0; i-- {
		in := history[i]
		fmt.Fprintf(&b, "- [%s] %s/%s: %s\n",
			in.OccurredAt.In(loc).Format("2006-01-02 15:04"),
			in.Direction, in.Channel,
			truncateRunes(in.Body, truncateAt),
		)
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncateRunes(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
