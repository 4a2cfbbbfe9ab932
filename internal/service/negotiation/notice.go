package negotiation

import (
	"fmt"
	"strings"
	"time"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
)

var weekdayShort = [...]string{"dom", "seg", "ter", "qua", "qui", "sex", "sáb"}

func formatSlot(s domain.Slot, loc *time.Location) string {
	start := s.Start.In(loc)
	return fmt.Sprintf("%s %s às %s", weekdayShort[start.Weekday()], start.Format("02/01"), start.Format("15:04"))
}

func greeting(lead *domain.Lead) string {
	if fields := strings.Fields(lead.ContactName); len(fields) > 0 {
		return "Olá " + fields[0] + "!"
	}
	return "Olá!"
}

// proposalNotice lists slots as a numbered list starting at 1.
func proposalNotice(lead *domain.Lead, slots []domain.Slot, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(greeting(lead))
	b.WriteString(" Estes são os próximos horários disponíveis para conversarmos:\n")
	for i, s := range slots {
		fmt.Fprintf(&b, "%d. %s\n", i+1, formatSlot(s, loc))
	}
	b.WriteString("Responda com o número da opção que preferir.")
	return b.String()
}

func noAvailabilityNotice(lead *domain.Lead) string {
	return greeting(lead) + " No momento não temos horários livres na agenda. Entraremos em contato assim que abrir uma vaga."
}

func confirmationNotice(lead *domain.Lead, slot domain.Slot, link string, loc *time.Location) string {
	msg := fmt.Sprintf("%s Reunião confirmada para %s.", greeting(lead), formatSlot(slot, loc))
	if link != "" {
		msg += " Link: " + link
	}
	return msg
}
