package compliance

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Opt-out categories named in block reasons.
const (
	CategoryStopRequest    = "stop_request"
	CategoryDisinterest    = "disinterest"
	CategoryDataProtection = "data_protection"
	CategoryStrongRefusal  = "strong_refusal"
)

// DefaultOptOutKeywords covers Brazilian Portuguese and English phrasing.
func DefaultOptOutKeywords() map[string][]string {
	return map[string][]string{
		CategoryStopRequest: {
			"pare de me enviar", "pare de enviar", "pare de mandar", "parem de me enviar",
			"nao me envie", "nao me mande", "nao quero receber", "parar de receber",
			"remova meu numero", "remover meu numero", "remova meu contato", "remover meu contato",
			"me tire da lista", "sair da lista", "descadastrar", "descadastre",
			"stop sending", "stop messaging", "unsubscribe", "remove me from",
		},
		CategoryDisinterest: {
			"nao tenho interesse", "sem interesse", "nao estou interessado", "nao estou interessada",
			"nao me interessa", "nao temos interesse", "not interested", "no interest",
		},
		CategoryDataProtection: {
			"lgpd", "lei geral de protecao de dados", "protecao de dados", "13.709", "anpd",
			"gdpr", "data protection",
		},
		CategoryStrongRefusal: {
			"me deixe em paz", "me deixa em paz", "nao quero mais", "nunca mais", "vou denunciar",
			"vou processar", "procon", "isso e spam", "leave me alone", "this is spam",
		},
	}
}

type optOutRule struct {
	category string
	phrases  []string
}

// optOutScanner performs an accent- and case-insensitive substring scan.
type optOutScanner struct {
	rules []optOutRule
}

func newOptOutScanner(keywords map[string][]string) *optOutScanner {
	categories := make([]string, 0, len(keywords))
	for c := range keywords {
		categories = append(categories, c)
	}
	// Deterministic reporting when several categories match.
	sort.Slice(categories, func(i, j int) bool {
		pi, pj := priority(categories[i]), priority(categories[j])
		if pi != pj {
			return pi < pj
		}
		return categories[i] < categories[j]
	})

	s := &optOutScanner{}
	for _, c := range categories {
		rule := optOutRule{category: c}
		for _, p := range keywords[c] {
			if f := fold(p); f != "" {
				rule.phrases = append(rule.phrases, f)
			}
		}
		if len(rule.phrases) > 0 {
			s.rules = append(s.rules, rule)
		}
	}
	return s
}

// scan returns the first matching category and phrase.
func (s *optOutScanner) scan(text string) (string, string, bool) {
	folded := fold(text)
	if folded == "" {
		return "", "", false
	}
	for _, r := range s.rules {
		for _, p := range r.phrases {
			if strings.Contains(folded, p) {
				return r.category, p, true
			}
		}
	}
	return "", "", false
}

func priority(category string) int {
	switch category {
	case CategoryStopRequest:
		return 0
	case CategoryDataProtection:
		return 1
	case CategoryStrongRefusal:
		return 2
	case CategoryDisinterest:
		return 3
	default:
		return 4
	}
}

// fold strips diacritics, case-folds and collapses whitespace.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), cases.Fold(), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = strings.ToLower(s)
	}
	return strings.Join(strings.Fields(out), " ")
}
