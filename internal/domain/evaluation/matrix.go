package evaluation

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// OrgUser is the read-only view of an organization member.
type OrgUser struct {
	ID             string
	TenantID       string
	DepartmentID   string
	DepartmentName string
	FullName       string
	Active         bool
}

// OrgLookup is the org-chart read model. Lookups of unknown users return found=false, not an error.
type OrgLookup interface {
	User(ctx context.Context, userID string) (OrgUser, bool, error)
	SupervisorOf(ctx context.Context, userID string) (string, bool, error)
	DirectReportsOf(ctx context.Context, userID string) ([]string, error)
	DepartmentOf(ctx context.Context, userID string) (string, bool, error)
	DepartmentPeersOf(ctx context.Context, userID string) ([]string, error)
	ActiveUsers(ctx context.Context, tenantID string) ([]string, error)
}

// PeerSelector narrows the candidate peer list, e.g. to an externally ranked top-N.
type PeerSelector func(ctx context.Context, evaluateeID string, candidates []string) ([]string, error)

// AssignmentPolicy decides which relationship categories are materialized and how many.
// A zero cap means unlimited.
type AssignmentPolicy struct {
	IncludeSelf         bool `yaml:"include_self"`
	IncludeSupervisor   bool `yaml:"include_supervisor"`
	IncludeSubordinates bool `yaml:"include_subordinates"`
	IncludePeers        bool `yaml:"include_peers"`
	MaxPeers            int  `yaml:"max_peers"`
	MaxSubordinates     int  `yaml:"max_subordinates"`

	PeerSelector PeerSelector `yaml:"-"`
}

func DefaultAssignmentPolicy() AssignmentPolicy {
	return AssignmentPolicy{
		IncludeSelf:         true,
		IncludeSupervisor:   true,
		IncludeSubordinates: true,
		IncludePeers:        true,
	}
}

// LoadAssignmentPolicy reads a YAML policy file. Keys missing from the file keep their defaults.
func LoadAssignmentPolicy(path string) (AssignmentPolicy, error) {
	policy := DefaultAssignmentPolicy()
	if path == "" {
		return policy, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("read assignment policy: %w", err)
	}
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return policy, fmt.Errorf("parse assignment policy: %w", err)
	}
	if policy.MaxPeers < 0 || policy.MaxSubordinates < 0 {
		return policy, fmt.Errorf("assignment policy caps must not be negative")
	}
	return policy, nil
}

// BuildAssignments produces the required assignment set for one evaluatee, in the order
// self, supervisor, subordinate, peer. An evaluator appears at most once; the first
// (highest precedence) relationship wins. Candidates outside the campaign's
// organization or inactive are never assigned.
func BuildAssignments(ctx context.Context, org OrgLookup, campaign Campaign, evaluateeID string, policy AssignmentPolicy) ([]AssignmentSpec, error) {
	evaluatee, found, err := org.User(ctx, evaluateeID)
	if err != nil {
		return nil, fmt.Errorf("lookup evaluatee: %w", err)
	}
	if !found || evaluatee.TenantID != campaign.TenantID {
		return nil, notFound("user", evaluateeID)
	}

	b := matrixBuilder{
		ctx:       ctx,
		org:       org,
		tenantID:  campaign.TenantID,
		evaluatee: evaluateeID,
		seen:      map[string]bool{},
	}

	if campaign.AllowSelfEvaluation && policy.IncludeSelf {
		b.seen[evaluateeID] = true
		b.out = append(b.out, AssignmentSpec{EvaluatorID: evaluateeID, EvaluateeID: evaluateeID, Relationship: RelationshipSelf})
	}

	if policy.IncludeSupervisor {
		supervisorID, ok, err := org.SupervisorOf(ctx, evaluateeID)
		if err != nil {
			return nil, fmt.Errorf("lookup supervisor: %w", err)
		}
		if ok {
			if _, err := b.add([]string{supervisorID}, RelationshipSupervisor, 0); err != nil {
				return nil, err
			}
		}
	}

	if policy.IncludeSubordinates {
		reports, err := org.DirectReportsOf(ctx, evaluateeID)
		if err != nil {
			return nil, fmt.Errorf("lookup direct reports: %w", err)
		}
		if _, err := b.add(reports, RelationshipSubordinate, policy.MaxSubordinates); err != nil {
			return nil, err
		}
	}

	if policy.IncludePeers {
		if _, hasDept, err := org.DepartmentOf(ctx, evaluateeID); err != nil {
			return nil, fmt.Errorf("lookup department: %w", err)
		} else if hasDept {
			peers, err := org.DepartmentPeersOf(ctx, evaluateeID)
			if err != nil {
				return nil, fmt.Errorf("lookup peers: %w", err)
			}
			if policy.PeerSelector != nil {
				peers, err = policy.PeerSelector(ctx, evaluateeID, peers)
				if err != nil {
					return nil, fmt.Errorf("select peers: %w", err)
				}
			}
			if _, err := b.add(peers, RelationshipPeer, policy.MaxPeers); err != nil {
				return nil, err
			}
		}
	}

	return b.out, nil
}

type matrixBuilder struct {
	ctx       context.Context
	org       OrgLookup
	tenantID  string
	evaluatee string
	seen      map[string]bool
	out       []AssignmentSpec
}

// add appends eligible candidates under relationship until limit is reached (0 = no limit).
func (b *matrixBuilder) add(candidates []string, relationship string, limit int) (int, error) {
	added := 0
	for _, id := range candidates {
		if limit > 0 && added >= limit {
			break
		}
		if id == "" || id == b.evaluatee || b.seen[id] {
			continue
		}
		user, found, err := b.org.User(b.ctx, id)
		if err != nil {
			return added, fmt.Errorf("lookup %s candidate: %w", relationship, err)
		}
		if !found || !user.Active || user.TenantID != b.tenantID {
			continue
		}
		b.seen[id] = true
		b.out = append(b.out, AssignmentSpec{EvaluatorID: id, EvaluateeID: b.evaluatee, Relationship: relationship})
		added++
	}
	return added, nil
}
