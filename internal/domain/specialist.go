package domain

// Specialist identifies the query-domain classification used to scope
// retrieval sources and prompt behavior
type Specialist string

const (
	SpecialistGeneral        Specialist = "general"
	SpecialistERP            Specialist = "erp"
	SpecialistNetwork        Specialist = "network"
	SpecialistPLM            Specialist = "plm"
	SpecialistEDI            Specialist = "edi"
	SpecialistManufacturing  Specialist = "manufacturing"
	SpecialistWorkplace      Specialist = "workplace"
	SpecialistInfrastructure Specialist = "infrastructure"
	SpecialistSecurity       Specialist = "security"
)

// AllSpecialists lists every specialist in the closed set.
var AllSpecialists = []Specialist{
	SpecialistGeneral,
	SpecialistERP,
	SpecialistNetwork,
	SpecialistPLM,
	SpecialistEDI,
	SpecialistManufacturing,
	SpecialistWorkplace,
	SpecialistInfrastructure,
	SpecialistSecurity,
}

// IsValidSpecialist checks if a Specialist is valid
func IsValidSpecialist(s Specialist) bool {
	for _, known := range AllSpecialists {
		if s == known {
			return true
		}
	}
	return false
}
