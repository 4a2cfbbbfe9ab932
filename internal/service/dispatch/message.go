package dispatch

import (
	"strings"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
)

// selectVariant picks the stage's variant for the lead's bucket, falling back to
// the stage's first variant when the bucket has no dedicated copy.
func selectVariant(variants map[domain.FunnelStage][]domain.MessageVariant, stage domain.FunnelStage, bucket domain.Bucket) (domain.MessageVariant, bool) {
	if stage == "" {
		stage = domain.FunnelTop
	}
	list := variants[stage]
	if len(list) == 0 {
		return domain.MessageVariant{}, false
	}
	for _, v := range list {
		if v.Bucket == bucket {
			return v, true
		}
	}
	return list[0], true
}

// personalize substitutes lead placeholders. Unknown placeholders are left as is.
func personalize(template string, lead *domain.Lead) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	first := lead.ContactName
	if fields := strings.Fields(lead.ContactName); len(fields) > 0 {
		first = fields[0]
	}
	pairs := []string{
		"contact_name", lead.ContactName,
		"first_name", first,
		"company_name", lead.CompanyName,
		"segment", lead.Segment,
	}
	args := make([]string, 0, len(pairs)*2)
	for i := 0; i < len(pairs); i += 2 {
		args = append(args,
			"{{"+pairs[i]+"}}", pairs[i+1],
			"{{ "+pairs[i]+" }}", pairs[i+1],
		)
	}
	return strings.NewReplacer(args...).Replace(template)
}
