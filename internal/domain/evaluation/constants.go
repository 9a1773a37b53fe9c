package evaluation

const (
	CampaignStatusDraft     = "draft"
	CampaignStatusActive    = "active"
	CampaignStatusCompleted = "completed"
	CampaignStatusCancelled = "cancelled"
)

var CampaignStatuses = []string{
	CampaignStatusDraft,
	CampaignStatusActive,
	CampaignStatusCompleted,
	CampaignStatusCancelled,
}

const (
	AssignmentStatusPending   = "pending"
	AssignmentStatusCompleted = "completed"
	AssignmentStatusCancelled = "cancelled"
)

const (
	RelationshipSelf        = "self"
	RelationshipSupervisor  = "supervisor"
	RelationshipPeer        = "peer"
	RelationshipSubordinate = "subordinate"
)

// Relationships is the fixed order used for per-relationship breakdowns.
var Relationships = []string{
	RelationshipSelf,
	RelationshipSupervisor,
	RelationshipPeer,
	RelationshipSubordinate,
}

const (
	QuestionTypeScale   = "scale"
	QuestionTypeText    = "text"
	QuestionTypeBoolean = "boolean"
)

const (
	ResultStateOpen      = "open"
	ResultStateFinalized = "finalized"
)

const (
	BucketExcellent        = "excellent"
	BucketGood             = "good"
	BucketAverage          = "average"
	BucketNeedsImprovement = "needs_improvement"
)

const (
	DefaultMaxScore        = 5
	DefaultBulkConcurrency = 4
	scoreDecimalPlaces     = 2
)
