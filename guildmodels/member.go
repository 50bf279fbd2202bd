package guildmodels

import (
	"fmt"
	"time"
)

//Requirement names a single gate checked by the requirement evaluator
type Requirement string

const (
	//RequirementBoost is satisfied by members currently boosting the guild
	RequirementBoost Requirement = "BOOST"
	//RequirementVerifiedDeveloper is satisfied by members with the verified bot developer badge
	RequirementVerifiedDeveloper Requirement = "VERIFIED_DEVELOPER"
)

//Member is the platform-neutral view of a guild member the engine works with
type Member struct {
	UserID            string
	Bot               bool
	RoleIDs           []string
	PremiumSince      *time.Time
	VerifiedDeveloper bool
}

//HasRole returns true iff the member currently holds roleID
func (m *Member) HasRole(roleID string) bool {
	return contains(m.RoleIDs, roleID)
}

//Evaluation is the outcome of checking a member against a binding's requirements
type Evaluation struct {
	Eligible          bool
	FailedRequirement Requirement
}

//Err returns nil for an eligible member, or an error wrapping ErrMissingRequirement naming the failed gate
func (e Evaluation) Err() error {
	if e.Eligible {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrMissingRequirement, e.FailedRequirement)
}

//Evaluate checks the booster requirement and then the verified developer requirement, stopping at the first
//one the member does not satisfy.
func (r Requirements) Evaluate(m Member) Evaluation {
	if r.Boost && m.PremiumSince == nil {
		return Evaluation{Eligible: false, FailedRequirement: RequirementBoost}
	}
	if r.VerifiedDeveloper && !m.VerifiedDeveloper {
		return Evaluation{Eligible: false, FailedRequirement: RequirementVerifiedDeveloper}
	}
	return Evaluation{Eligible: true}
}

//Any is true when at least one requirement is configured
func (r Requirements) Any() bool {
	return r.Boost || r.VerifiedDeveloper
}
