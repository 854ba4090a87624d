package entitlements

import "strings"

type Plan string

const (
	PlanFree      Plan = "free"
	PlanEssencial Plan = "essencial"
	PlanCompleto  Plan = "completo"
)

// NormalizePlan maps arbitrary plan strings onto the known internal plans.
func NormalizePlan(plan string) Plan {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(PlanEssencial):
		return PlanEssencial
	case string(PlanCompleto):
		return PlanCompleto
	default:
		return PlanFree
	}
}

// PlanRank orders plans so that a higher-value grant always wins when a user
// holds entitlements from more than one purchase.
func PlanRank(plan Plan) int {
	switch NormalizePlan(string(plan)) {
	case PlanCompleto:
		return 2
	case PlanEssencial:
		return 1
	default:
		return 0
	}
}

// MaxQuestionBanks returns how many private question banks a plan allows.
func MaxQuestionBanks(plan Plan) int {
	switch NormalizePlan(string(plan)) {
	case PlanCompleto:
		return 50
	case PlanEssencial:
		return 10
	default:
		return 1
	}
}
