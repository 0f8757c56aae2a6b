package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskmate-ai/deskmate/internal/domain"
)

func TestRouter_Classify(t *testing.T) {
	router := NewRouter(nil)

	tests := []struct {
		name  string
		query string
		want  domain.Specialist
	}{
		{"erp transaction code", "I cannot access SAP transaction ME21N", domain.SpecialistERP},
		{"network terms", "VPN drops when I switch to wifi", domain.SpecialistNetwork},
		{"workplace terms", "Outlook calendar is missing my mailbox", domain.SpecialistWorkplace},
		{"security terms", "I received a phishing mail asking for MFA codes", domain.SpecialistSecurity},
		{"plm terms", "Teamcenter will not open my CAD drawing", domain.SpecialistPLM},
		{"edi terms", "Our EDIFACT DESADV messages are stuck", domain.SpecialistEDI},
		{"manufacturing terms", "The shopfloor scanner gun is offline", domain.SpecialistManufacturing},
		{"infrastructure terms", "VMware backup restore failed on the server", domain.SpecialistInfrastructure},
		{"no hits", "My chair is broken", domain.SpecialistGeneral},
		{"case insensitive", "sap TRANSACTION problem", domain.SpecialistERP},
		{"empty query", "", domain.SpecialistGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, router.Classify(tt.query))
		})
	}
}

func TestRouter_ClassifyTieGoesToGeneral(t *testing.T) {
	router := NewRouter(nil)

	// One network hit ("vpn") and one workplace hit ("printer").
	assert.Equal(t, domain.SpecialistGeneral, router.Classify("vpn and printer trouble"))
}

func TestRouter_DispatchSources(t *testing.T) {
	router := NewRouter(nil)

	erp := router.Dispatch("sap access", domain.SpecialistERP)
	assert.Equal(t, []domain.SourceType{
		domain.SourceTypeReferenceRow,
		domain.SourceTypeTicketSolution,
		domain.SourceTypeWikiPage,
	}, erp.Sources)

	general := router.Dispatch("anything", domain.SpecialistGeneral)
	assert.Equal(t, domain.AllSourceTypes, general.Sources)

	network := router.Dispatch("vpn down", domain.SpecialistNetwork)
	assert.Equal(t, domain.AllSourceTypes, network.Sources)
	assert.NotEmpty(t, network.SystemPrompt)
}

func TestRouter_ERPStructuredAnswer(t *testing.T) {
	router := NewRouter(nil)

	cfg := router.Dispatch("I need access to ME21N.", domain.SpecialistERP)
	require.NotEmpty(t, cfg.StructuredAnswer)
	assert.Contains(t, cfg.StructuredAnswer, "ME21N")
	assert.Contains(t, cfg.StructuredAnswer, "Z_PURCHASING_BUYER")

	// Secondary transactions resolve to the same role.
	cfg = router.Dispatch("error in me22n", domain.SpecialistERP)
	require.NotEmpty(t, cfg.StructuredAnswer)
	assert.Contains(t, cfg.StructuredAnswer, "Z_PURCHASING_BUYER")

	// No known code: fall through to generic retrieval.
	cfg = router.Dispatch("sap is slow today", domain.SpecialistERP)
	assert.Empty(t, cfg.StructuredAnswer)

	// Structured lookup only runs for the ERP specialist.
	cfg = router.Dispatch("ME21N", domain.SpecialistGeneral)
	assert.Empty(t, cfg.StructuredAnswer)
}

func TestRouter_DetectTicketReference(t *testing.T) {
	router := NewRouter(nil)

	tests := []struct {
		query string
		want  string
		found bool
	}{
		{"please look at IT-4711", "IT-4711", true},
		{"see it-42 for details", "IT-42", true},
		{"HD-1 and SD-99", "HD-1", true},
		{"ITX-4711 is not a ticket", "", false},
		{"IT- is incomplete", "", false},
		{"nothing here", "", false},
	}

	for _, tt := range tests {
		got, found := router.DetectTicketReference(tt.query)
		assert.Equal(t, tt.found, found, tt.query)
		assert.Equal(t, tt.want, got, tt.query)
	}
}

func TestRouter_CustomTicketPrefixes(t *testing.T) {
	router := NewRouter([]string{"helpdesk", "ops"})

	got, found := router.DetectTicketReference("escalated as HELPDESK-77")
	require.True(t, found)
	assert.Equal(t, "HELPDESK-77", got)

	_, found = router.DetectTicketReference("see IT-4711")
	assert.False(t, found)
}
