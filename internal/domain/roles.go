package domain

import "fmt"

// Role is a closed enumeration. Adding a role means extending Can below;
// unknown role strings are rejected at parse time rather than silently
// falling through string comparisons.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleAuditor Role = "auditor"
	RoleViewer  Role = "viewer"
)

// Operation names a role-gated action on the API.
type Operation string

const (
	OpCatalogRead       Operation = "catalog.read"
	OpTeamWrite         Operation = "team.write"
	OpDeviceWrite       Operation = "device.write"
	OpConfigurationSave Operation = "configuration.save"
	OpReportGenerate    Operation = "report.generate"
	OpReportDownload    Operation = "report.download"
	OpEventsRead        Operation = "events.read"
)

// ParseRole validates a role claim.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleAuditor, RoleViewer:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Can reports whether the role may perform op. The switch is exhaustive
// over the Role constants; an unparsed role can never reach here.
func (r Role) Can(op Operation) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleAuditor:
		switch op {
		case OpCatalogRead, OpConfigurationSave, OpReportGenerate, OpReportDownload, OpEventsRead:
			return true
		}
		return false
	case RoleViewer:
		switch op {
		case OpCatalogRead, OpReportDownload:
			return true
		}
		return false
	}
	return false
}
