package rbac

// Permissions checked by the HTTP surface.
const (
	PermGradesView      = "grades:view"
	PermGradesRecalc    = "grades:recalculate"
	PermGradesExport    = "grades:export"
	PermScoresWrite     = "scores:write"
	PermWeightsView     = "weights:view"
	PermWeightsEdit     = "weights:edit"
	PermWeightsDiagnose = "weights:diagnose"
	PermEventsRead      = "events:read"
	PermRosterEdit      = "roster:edit"
)

// AllPermissions is every permission the API checks.
var AllPermissions = []string{
	PermGradesView, PermGradesRecalc, PermGradesExport, PermScoresWrite,
	PermWeightsView, PermWeightsEdit, PermWeightsDiagnose, PermEventsRead, PermRosterEdit,
}

// Weight edits are administrative only.
var RolePermissions = map[string][]string{
	"teacher": {
		"grades:view",
		"grades:export",
		"grades:recalculate",
		"weights:view",
	},
	"service": {
		"scores:write",
		"grades:recalculate",
		"events:read",
		"roster:edit",
	},
	"admin": {
		"*", // everything
	},
}
