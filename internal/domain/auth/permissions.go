package auth

import "strings"

const (
	RoleEmployee = "employee"
	RoleManager  = "manager"
	RoleHR       = "hr"
	RoleAdmin    = "admin"
)

const (
	PermEvaluationRespond   = "evaluation.respond"
	PermResultsRead         = "evaluation.results.read"
	PermCalibrationView     = "calibration.view"
	PermCalibrationAdjust   = "calibration.adjust"
	PermCalibrationFinalize = "calibration.finalize"
	PermBulkFinalize        = "calibration.bulk_finalize"
	PermCampaignsManage     = "campaigns.manage"
	PermAuditRead           = "audit.read"
)

var DefaultPermissions = []string{
	PermEvaluationRespond,
	PermResultsRead,
	PermCalibrationView,
	PermCalibrationAdjust,
	PermCalibrationFinalize,
	PermBulkFinalize,
	PermCampaignsManage,
	PermAuditRead,
}

var RolePermissions = map[string][]string{
	RoleEmployee: {
		PermEvaluationRespond,
		PermResultsRead,
	},
	RoleManager: {
		PermEvaluationRespond,
		PermResultsRead,
		PermCalibrationView,
		PermCalibrationAdjust,
		PermCalibrationFinalize,
	},
	RoleHR: {
		PermEvaluationRespond,
		PermResultsRead,
		PermCalibrationView,
		PermCalibrationAdjust,
		PermCalibrationFinalize,
		PermBulkFinalize,
		PermCampaignsManage,
		PermAuditRead,
	},
	RoleAdmin: DefaultPermissions,
}

// HasPermission reports whether the role grants perm. Role names are matched case-insensitively.
func HasPermission(role, perm string) bool {
	for _, p := range RolePermissions[strings.ToLower(role)] {
		if p == perm {
			return true
		}
	}
	return false
}

// StaticPermissions resolves permissions from RolePermissions.
type StaticPermissions struct{}

func (StaticPermissions) HasPermission(role, perm string) bool {
	return HasPermission(role, perm)
}
