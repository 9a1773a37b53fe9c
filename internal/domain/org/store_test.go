package org

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestParseID(t *testing.T) {
	id := uuid.New()
	got, ok := parseID(id.String())
	if !ok || got != id {
		t.Fatalf("expected %s, got %s ok=%v", id, got, ok)
	}
	for _, bad := range []string{"", "u-emp", "1; DROP TABLE employees", "00000000-0000-0000-0000"} {
		if _, ok := parseID(bad); ok {
			t.Fatalf("%q should not parse", bad)
		}
	}
}

func TestMalformedIDsMatchNothing(t *testing.T) {
	// no pool: a malformed id must be answered before any query runs
	s := &Store{}
	ctx := context.Background()

	if _, found, err := s.User(ctx, "not-a-uuid"); err != nil || found {
		t.Fatalf("user: found=%v err=%v", found, err)
	}
	if _, ok, err := s.SupervisorOf(ctx, "not-a-uuid"); err != nil || ok {
		t.Fatalf("supervisor: ok=%v err=%v", ok, err)
	}
	if _, ok, err := s.DepartmentOf(ctx, "not-a-uuid"); err != nil || ok {
		t.Fatalf("department: ok=%v err=%v", ok, err)
	}
	if ids, err := s.DirectReportsOf(ctx, "not-a-uuid"); err != nil || len(ids) != 0 {
		t.Fatalf("reports: %v %v", ids, err)
	}
	if ids, err := s.DepartmentPeersOf(ctx, "not-a-uuid"); err != nil || len(ids) != 0 {
		t.Fatalf("peers: %v %v", ids, err)
	}
	if ids, err := s.ActiveUsers(ctx, "tenant-1"); err != nil || len(ids) != 0 {
		t.Fatalf("active users: %v %v", ids, err)
	}
}
