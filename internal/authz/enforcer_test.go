// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package authz

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestEnforcer(t *testing.T) *Enforcer {
	t.Helper()
	e, err := NewEnforcer(DefaultEnforcerConfig())
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	return e
}

func TestEmbeddedPolicyRoles(t *testing.T) {
	e := newTestEnforcer(t)

	tests := []struct {
		role   string
		object string
		action string
		want   bool
	}{
		{"viewer", ObjectThreats, ActionRead, true},
		{"viewer", ObjectIncidents, ActionRead, true},
		{"viewer", ObjectDashboard, ActionRead, true},
		{"viewer", ObjectThreats, ActionWrite, false},
		{"viewer", ObjectIncidents, ActionWrite, false},
		{"analyst", ObjectThreats, ActionWrite, true},
		{"analyst", ObjectIncidents, ActionWrite, true},
		{"analyst", ObjectIncidents, ActionRead, true},
		{"analyst", ObjectBlocklist, ActionWrite, false},
		{"responder", ObjectBlocklist, ActionWrite, true},
		{"responder", ObjectDashboard, ActionRead, true},
		{"admin", ObjectBlocklist, ActionWrite, true},
		{"admin", "anything", "delete", true},
		{"student", ObjectThreats, ActionRead, false},
	}
	for _, tt := range tests {
		t.Run(tt.role+"/"+tt.object+"/"+tt.action, func(t *testing.T) {
			got, err := e.Enforce(tt.role, tt.object, tt.action)
			if err != nil {
				t.Fatalf("Enforce() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Enforce(%s, %s, %s) = %v, want %v", tt.role, tt.object, tt.action, got, tt.want)
			}
		})
	}
}

func TestEnforceWithRoles(t *testing.T) {
	e := newTestEnforcer(t)

	allowed, err := e.EnforceWithRoles("jdoe@example.edu", []string{"student", "analyst"}, ObjectIncidents, ActionWrite)
	if err != nil || !allowed {
		t.Errorf("token role analyst should allow incident writes: %v, %v", allowed, err)
	}

	allowed, err = e.EnforceWithRoles("jdoe@example.edu", nil, ObjectIncidents, ActionRead)
	if err != nil || allowed {
		t.Errorf("subject without roles should be denied: %v, %v", allowed, err)
	}
}

func TestAddRoleForUserFlushesCache(t *testing.T) {
	e := newTestEnforcer(t)

	if allowed, _ := e.Enforce("asmith@example.edu", ObjectBlocklist, ActionWrite); allowed {
		t.Fatal("unassigned user should be denied")
	}
	if _, err := e.AddRoleForUser("asmith@example.edu", "responder"); err != nil {
		t.Fatalf("AddRoleForUser() error = %v", err)
	}
	if allowed, _ := e.Enforce("asmith@example.edu", ObjectBlocklist, ActionWrite); !allowed {
		t.Error("cached deny survived a role change")
	}
	roles, err := e.GetRolesForUser("asmith@example.edu")
	if err != nil || len(roles) != 1 || roles[0] != "responder" {
		t.Errorf("GetRolesForUser() = %v, %v", roles, err)
	}
}

func TestPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.csv")
	body := "p, auditor, incidents, read\ng, carol@example.edu, auditor\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultEnforcerConfig()
	cfg.PolicyPath = path
	e, err := NewEnforcer(cfg)
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	if allowed, _ := e.Enforce("carol@example.edu", ObjectIncidents, ActionRead); !allowed {
		t.Error("policy file grant not applied")
	}
	if allowed, _ := e.Enforce("viewer", ObjectThreats, ActionRead); allowed {
		t.Error("embedded policy should not apply when a file is configured")
	}

	if err := os.WriteFile(path, []byte("p, auditor, threats, read\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := e.LoadPolicy(); err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}
	if allowed, _ := e.Enforce("auditor", ObjectThreats, ActionRead); !allowed {
		t.Error("reloaded policy not applied")
	}
}

func TestMissingPolicyFile(t *testing.T) {
	cfg := DefaultEnforcerConfig()
	cfg.PolicyPath = filepath.Join(t.TempDir(), "absent.csv")
	if _, err := NewEnforcer(cfg); err == nil {
		t.Error("missing policy file should fail")
	}
}

func TestLoadEmbeddedPolicyRejectsMalformedLine(t *testing.T) {
	e := newTestEnforcer(t)
	if err := loadEmbeddedPolicy(e.enforcer, "p, viewer, threats\n"); err == nil {
		t.Error("short policy line should fail")
	}
}
