package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/deskmate-ai/deskmate/internal/domain"
)

// specialistTerms are the fixed per-specialist term lists the classifier
// counts hits against. Terms are matched case-insensitively as substrings
// of the normalized query.
var specialistTerms = map[domain.Specialist][]string{
	domain.SpecialistERP: {
		"sap", "erp", "transaction", "transaktion", "me21n", "me22n", "me23n",
		"va01", "mm01", "fb60", "su01", "purchase order", "bestellung",
		"invoice posting", "company code", "buchungskreis", "sap role", "sap gui",
	},
	domain.SpecialistNetwork: {
		"vpn", "wifi", "wlan", "network drive", "netzlaufwerk", "dns", "proxy",
		"firewall", "lan", "ethernet", "ip address", "subnet", "switch port",
		"no internet", "kein internet",
	},
	domain.SpecialistPLM: {
		"plm", "cad", "catia", "solidworks", "teamcenter", "windchill",
		"drawing", "zeichnung", "bom", "stückliste", "3d model",
	},
	domain.SpecialistEDI: {
		"edi", "edifact", "ansi x12", "as2", "idoc", "partner profile",
		"b2b", "orders message", "desadv", "invoic", "interchange",
	},
	domain.SpecialistManufacturing: {
		"mes", "shopfloor", "shop floor", "production line", "fertigung",
		"plc", "scada", "andon", "machine terminal", "werker", "scanner gun",
	},
	domain.SpecialistWorkplace: {
		"outlook", "teams", "word", "excel", "powerpoint", "printer", "drucker",
		"onedrive", "sharepoint", "password reset", "passwort", "mailbox",
		"calendar", "signature", "notebook dock",
	},
	domain.SpecialistInfrastructure: {
		"server", "vmware", "vsphere", "hypervisor", "storage", "backup",
		"restore", "active directory", "group policy", "dhcp", "certificate",
		"load balancer", "datacenter",
	},
	domain.SpecialistSecurity: {
		"phishing", "malware", "virus", "ransomware", "mfa", "2fa",
		"security incident", "compromised", "suspicious mail", "bitlocker",
		"encryption", "spam",
	},
}

// specialistSources scopes retrieval per specialist. Unlisted specialists
// search every source.
var specialistSources = map[domain.Specialist][]domain.SourceType{
	domain.SpecialistERP: {
		domain.SourceTypeReferenceRow,
		domain.SourceTypeTicketSolution,
		domain.SourceTypeWikiPage,
	},
	domain.SpecialistEDI: {
		domain.SourceTypeReferenceRow,
		domain.SourceTypeTicketSolution,
		domain.SourceTypeWikiPage,
	},
	domain.SpecialistWorkplace: {
		domain.SourceTypeTicketSolution,
		domain.SourceTypeWikiPage,
		domain.SourceTypeArticle,
	},
}

// RouteConfig is the retrieval configuration a classified query dispatches to.
type RouteConfig struct {
	Specialist   domain.Specialist
	Sources      []domain.SourceType
	SystemPrompt string
	// StructuredAnswer short-circuits generic retrieval when a specialist's
	// dedicated lookup produced a non-empty exact match.
	StructuredAnswer string
}

// ERPMapping is one row of the ERP code -> role -> transactions table.
type ERPMapping struct {
	Code         string
	Role         string
	Transactions []string
	Description  string
}

// DefaultERPMappings returns the built-in ERP authorization lookup table.
func DefaultERPMappings() []ERPMapping {
	return []ERPMapping{
		{Code: "ME21N", Role: "Z_PURCHASING_BUYER", Transactions: []string{"ME21N", "ME22N", "ME23N"}, Description: "Create/change/display purchase orders"},
		{Code: "VA01", Role: "Z_SALES_ORDER_CLERK", Transactions: []string{"VA01", "VA02", "VA03"}, Description: "Create/change/display sales orders"},
		{Code: "MM01", Role: "Z_MATERIAL_MASTER", Transactions: []string{"MM01", "MM02", "MM03"}, Description: "Maintain material master data"},
		{Code: "FB60", Role: "Z_AP_ACCOUNTANT", Transactions: []string{"FB60", "FB65", "FBL1N"}, Description: "Post vendor invoices and credit memos"},
		{Code: "SU01", Role: "Z_USER_ADMIN", Transactions: []string{"SU01", "SU10"}, Description: "SAP user administration"},
	}
}

// Router classifies a query into a specialist domain and resolves the
// route-specific retrieval configuration.
type Router struct {
	terms         map[domain.Specialist][]string
	sources       map[domain.Specialist][]domain.SourceType
	erpByCode     map[string]ERPMapping
	ticketPattern *regexp.Regexp
}

// NewRouter creates a Router with the built-in term lists, the default ERP
// lookup table, and ticket detection for the given project prefixes.
func NewRouter(ticketPrefixes []string) *Router {
	if len(ticketPrefixes) == 0 {
		ticketPrefixes = []string{"IT", "HD", "SD"}
	}

	escaped := make([]string, 0, len(ticketPrefixes))
	for _, prefix := range ticketPrefixes {
		prefix = strings.ToUpper(strings.TrimSpace(prefix))
		if prefix == "" {
			continue
		}
		escaped = append(escaped, regexp.QuoteMeta(prefix))
	}

	erpByCode := make(map[string]ERPMapping)
	for _, mapping := range DefaultERPMappings() {
		erpByCode[strings.ToUpper(mapping.Code)] = mapping
		for _, tx := range mapping.Transactions {
			if _, ok := erpByCode[strings.ToUpper(tx)]; !ok {
				erpByCode[strings.ToUpper(tx)] = mapping
			}
		}
	}

	return &Router{
		terms:         specialistTerms,
		sources:       specialistSources,
		erpByCode:     erpByCode,
		ticketPattern: regexp.MustCompile(`(?i)\b(` + strings.Join(escaped, "|") + `)-(\d+)\b`),
	}
}

// Classify scores each specialist by term hits in the normalized query and
// returns the highest-scoring one. Ties, including zero hits everywhere,
// resolve to the general specialist.
func (r *Router) Classify(query string) domain.Specialist {
	normalized := " " + strings.ToLower(strings.Join(strings.Fields(query), " ")) + " "

	best := domain.SpecialistGeneral
	bestHits := 0
	tied := false

	for _, specialist := range domain.AllSpecialists {
		terms := r.terms[specialist]
		hits := 0
		for _, term := range terms {
			if strings.Contains(normalized, term) {
				hits++
			}
		}
		switch {
		case hits > bestHits:
			best = specialist
			bestHits = hits
			tied = false
		case hits == bestHits && hits > 0 && specialist != best:
			tied = true
		}
	}

	if bestHits == 0 || tied {
		return domain.SpecialistGeneral
	}
	return best
}

// Dispatch resolves the retrieval configuration for a classified query,
// running the specialist's structured lookup first. A non-empty structured
// answer takes precedence over generic retrieval.
func (r *Router) Dispatch(query string, specialist domain.Specialist) RouteConfig {
	sources, ok := r.sources[specialist]
	if !ok {
		sources = domain.AllSourceTypes
	}

	cfg := RouteConfig{
		Specialist:   specialist,
		Sources:      sources,
		SystemPrompt: systemPromptFor(specialist),
	}

	if specialist == domain.SpecialistERP {
		cfg.StructuredAnswer = r.lookupERP(query)
	}

	return cfg
}

// lookupERP answers queries naming a known transaction code directly from
// the code -> role -> transactions table.
func (r *Router) lookupERP(query string) string {
	for _, token := range strings.Fields(strings.ToUpper(query)) {
		token = strings.Trim(token, ".,;:!?()[]")
		mapping, ok := r.erpByCode[token]
		if !ok {
			continue
		}
		return fmt.Sprintf(
			"Transaction %s requires role %s (%s). Covered transactions: %s. Request the role through the IT self-service portal.",
			token, mapping.Role, mapping.Description, strings.Join(mapping.Transactions, ", "),
		)
	}
	return ""
}

// DetectTicketReference finds a ticket id (project prefix, dash, digits) in
// the query. Detection runs independently of specialist classification.
func (r *Router) DetectTicketReference(query string) (string, bool) {
	match := r.ticketPattern.FindString(query)
	if match == "" {
		return "", false
	}
	return strings.ToUpper(match), true
}
