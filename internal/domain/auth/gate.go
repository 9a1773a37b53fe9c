package auth

import "q360/internal/domain/evaluation"

// Gate maps calibration capabilities onto role permissions.
type Gate struct{}

var _ evaluation.AuthorizationGate = Gate{}

func (Gate) CanAdjust(actor evaluation.Actor) bool {
	return HasPermission(actor.RoleName, PermCalibrationAdjust)
}

func (Gate) CanFinalize(actor evaluation.Actor) bool {
	return HasPermission(actor.RoleName, PermCalibrationFinalize)
}

func (Gate) CanBulkFinalize(actor evaluation.Actor) bool {
	return HasPermission(actor.RoleName, PermBulkFinalize)
}

// CanViewCalibration also requires the campaign to belong to the actor's tenant.
func (Gate) CanViewCalibration(actor evaluation.Actor, campaign evaluation.Campaign) bool {
	if actor.TenantID == "" || actor.TenantID != campaign.TenantID {
		return false
	}
	return HasPermission(actor.RoleName, PermCalibrationView)
}

func (Gate) CanManageCampaigns(actor evaluation.Actor) bool {
	return HasPermission(actor.RoleName, PermCampaignsManage)
}
