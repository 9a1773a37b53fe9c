package evaluation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func specsByRelationship(specs []AssignmentSpec) map[string][]string {
	out := map[string][]string{}
	for _, s := range specs {
		out[s.Relationship] = append(out[s.Relationship], s.EvaluatorID)
	}
	return out
}

func TestBuildAssignmentsFullMatrix(t *testing.T) {
	campaign := Campaign{ID: "c1", TenantID: tenantID, AllowSelfEvaluation: true}
	specs, err := BuildAssignments(context.Background(), newOrg(), campaign, "u-emp", DefaultAssignmentPolicy())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	got := specsByRelationship(specs)
	if len(got[RelationshipSelf]) != 1 || got[RelationshipSelf][0] != "u-emp" {
		t.Fatalf("expected self assignment, got %v", got)
	}
	if len(got[RelationshipSupervisor]) != 1 || got[RelationshipSupervisor][0] != "u-boss" {
		t.Fatalf("expected supervisor u-boss, got %v", got)
	}
	if len(got[RelationshipSubordinate]) != 1 || got[RelationshipSubordinate][0] != "u-rep" {
		t.Fatalf("expected subordinate u-rep, got %v", got)
	}
	// u-gone is inactive and u-x belongs to another tenant
	if len(got[RelationshipPeer]) != 2 || got[RelationshipPeer][0] != "u-peer1" || got[RelationshipPeer][1] != "u-peer2" {
		t.Fatalf("expected peers u-peer1,u-peer2, got %v", got)
	}
	for _, s := range specs {
		if s.EvaluateeID != "u-emp" {
			t.Fatalf("unexpected evaluatee %s", s.EvaluateeID)
		}
	}
}

func TestBuildAssignmentsSelfDisabled(t *testing.T) {
	campaign := Campaign{ID: "c1", TenantID: tenantID}
	specs, err := BuildAssignments(context.Background(), newOrg(), campaign, "u-emp", DefaultAssignmentPolicy())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if n := len(specsByRelationship(specs)[RelationshipSelf]); n != 0 {
		t.Fatalf("expected no self assignment, got %d", n)
	}
}

func TestBuildAssignmentsEvaluatorAppearsOnce(t *testing.T) {
	org := newOrg()
	// u-peer1 is both a department peer and the supervisor
	org.supervisor["u-emp"] = "u-peer1"
	campaign := Campaign{ID: "c1", TenantID: tenantID}
	specs, err := BuildAssignments(context.Background(), org, campaign, "u-emp", DefaultAssignmentPolicy())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	seen := map[string]string{}
	for _, s := range specs {
		if prev, ok := seen[s.EvaluatorID]; ok {
			t.Fatalf("evaluator %s assigned twice (%s, %s)", s.EvaluatorID, prev, s.Relationship)
		}
		seen[s.EvaluatorID] = s.Relationship
	}
	if seen["u-peer1"] != RelationshipSupervisor {
		t.Fatalf("supervisor should take precedence over peer, got %q", seen["u-peer1"])
	}
}

func TestBuildAssignmentsCapsAndSelector(t *testing.T) {
	policy := DefaultAssignmentPolicy()
	policy.MaxPeers = 1
	policy.PeerSelector = func(_ context.Context, _ string, candidates []string) ([]string, error) {
		out := make([]string, len(candidates))
		for i, c := range candidates {
			out[len(candidates)-1-i] = c
		}
		return out, nil
	}
	campaign := Campaign{ID: "c1", TenantID: tenantID}
	specs, err := BuildAssignments(context.Background(), newOrg(), campaign, "u-emp", policy)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	peers := specsByRelationship(specs)[RelationshipPeer]
	if len(peers) != 1 || peers[0] != "u-peer2" {
		t.Fatalf("expected selector order capped to u-peer2, got %v", peers)
	}
}

func TestBuildAssignmentsWithoutSupervisorOrDepartment(t *testing.T) {
	// u-admin has no supervisor, no department and no reports
	campaign := Campaign{ID: "c1", TenantID: tenantID, AllowSelfEvaluation: true}
	specs, err := BuildAssignments(context.Background(), newOrg(), campaign, "u-admin", DefaultAssignmentPolicy())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(specs) != 1 || specs[0].Relationship != RelationshipSelf || specs[0].EvaluatorID != "u-admin" {
		t.Fatalf("expected only the self assignment, got %+v", specs)
	}

	campaign.AllowSelfEvaluation = false
	specs, err = BuildAssignments(context.Background(), newOrg(), campaign, "u-admin", DefaultAssignmentPolicy())
	if err != nil {
		t.Fatalf("build without self: %v", err)
	}
	if len(specs) != 0 {
		t.Fatalf("expected no assignments, got %+v", specs)
	}
}

func TestBuildAssignmentsUnknownOrForeignEvaluatee(t *testing.T) {
	campaign := Campaign{ID: "c1", TenantID: tenantID}
	for _, id := range []string{"nobody", "u-x"} {
		if _, err := BuildAssignments(context.Background(), newOrg(), campaign, id, DefaultAssignmentPolicy()); !IsNotFound(err) {
			t.Fatalf("%s: expected not found, got %v", id, err)
		}
	}
}

func TestLoadAssignmentPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("include_self: false\nmax_peers: 3\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	policy, err := LoadAssignmentPolicy(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if policy.IncludeSelf || !policy.IncludePeers || policy.MaxPeers != 3 {
		t.Fatalf("unexpected policy %+v", policy)
	}

	if err := os.WriteFile(path, []byte("max_subordinates: -1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadAssignmentPolicy(path); err == nil {
		t.Fatalf("expected negative cap to be rejected")
	}

	def, err := LoadAssignmentPolicy("")
	if err != nil || !def.IncludeSelf {
		t.Fatalf("expected defaults for empty path, got %+v %v", def, err)
	}
}
