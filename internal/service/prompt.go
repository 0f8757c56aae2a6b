package service

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/deskmate-ai/deskmate/internal/domain"
	"github.com/deskmate-ai/deskmate/internal/openai"
)

const (
	basePrompt = "You are Deskmate, the internal IT-support assistant. Answer employee questions using ONLY the knowledge context provided below. If the context does not cover the question, say so and suggest opening a ticket. Answer in the language of the question. Be concise and give concrete steps."

	// historyTokenBudget bounds how much prior conversation is replayed to
	// the completion call.
	historyTokenBudget = 1500

	tokenEncoding = "cl100k_base"
)

var specialistPrompts = map[domain.Specialist]string{
	domain.SpecialistERP:            "You specialize in SAP/ERP topics: transactions, roles, authorizations, and module questions (MM, SD, FI). Name the exact transaction codes and roles when the context provides them.",
	domain.SpecialistNetwork:        "You specialize in network topics: VPN, WiFi, DNS, proxies, and connectivity. Walk through diagnosis steps in order before suggesting escalation.",
	domain.SpecialistPLM:            "You specialize in PLM and CAD tooling: Teamcenter, CATIA, SolidWorks, drawings and BOM handling.",
	domain.SpecialistEDI:            "You specialize in EDI/B2B integration: EDIFACT, IDocs, AS2 partners and message flows.",
	domain.SpecialistManufacturing:  "You specialize in manufacturing IT: MES, shopfloor terminals, scanners and production-line equipment.",
	domain.SpecialistWorkplace:      "You specialize in end-user workplace topics: Office, email, printing, passwords and collaboration tools.",
	domain.SpecialistInfrastructure: "You specialize in infrastructure: servers, virtualization, storage, Active Directory and backups.",
	domain.SpecialistSecurity:       "You specialize in IT security: phishing, malware, MFA and incident handling. Treat every report as potentially urgent.",
}

// systemPromptFor returns the specialist-specific system prompt variant.
func systemPromptFor(specialist domain.Specialist) string {
	extra, ok := specialistPrompts[specialist]
	if !ok {
		return basePrompt
	}
	return basePrompt + "\n\n" + extra
}

// buildUserPrompt combines the assembled knowledge context with the query.
func buildUserPrompt(contextBlock, query string) string {
	if strings.TrimSpace(contextBlock) == "" {
		return "No knowledge context was found for this question.\n\nQuestion: " + query
	}
	return "Knowledge context:\n\n" + contextBlock + "\nQuestion: " + query
}

// trimHistory drops the oldest turns until the remaining history fits the
// token budget. Token counts fall back to a character heuristic if the
// encoding is unavailable.
func trimHistory(history []openai.Message, budget int) []openai.Message {
	if budget <= 0 || len(history) == 0 {
		return nil
	}

	counter := tokenCounter()

	total := 0
	counts := make([]int, len(history))
	for i, m := range history {
		counts[i] = counter(m.Content) + 4
		total += counts[i]
	}

	start := 0
	for start < len(history) && total > budget {
		total -= counts[start]
		start++
	}

	return history[start:]
}

func tokenCounter() func(string) int {
	encoding, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		// Rough heuristic: one token per four characters.
		return func(s string) int { return len(s)/4 + 1 }
	}
	return func(s string) int {
		return len(encoding.Encode(s, nil, nil))
	}
}
