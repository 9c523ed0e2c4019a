package session

import (
	"testing"
	"time"
)

func testManager() (*Manager, *time.Time) {
	now := time.Unix(5000, 0)
	m := NewManager()
	m.now = func() time.Time { return now }
	return m, &now
}

func TestCreateIsIdempotentPerDevice(t *testing.T) {
	m, _ := testManager()

	s1 := m.Create("dev1")
	s2 := m.Create("dev1")
	if s1 != s2 {
		t.Errorf("second Create minted a new session: %s vs %s", s1, s2)
	}

	s3 := m.Create("dev2")
	if s3 == s1 {
		t.Error("distinct devices must get distinct sessions")
	}
	if m.ActiveCount() != 2 {
		t.Errorf("active count = %d, want 2", m.ActiveCount())
	}
}

func TestJoinAndLookups(t *testing.T) {
	m, _ := testManager()
	sid := m.Create("dev1")

	if !m.Join(sid, "ctrl-1") {
		t.Fatal("join failed")
	}
	if m.Join("missing", "ctrl-1") {
		t.Error("joining a missing session should fail")
	}

	sess, ok := m.Get(sid)
	if !ok {
		t.Fatal("Get failed")
	}
	if len(sess.ControllerIDs) != 1 || sess.ControllerIDs[0] != "ctrl-1" {
		t.Errorf("controllers = %v", sess.ControllerIDs)
	}

	byDev, ok := m.ByDevice("dev1")
	if !ok || byDev.SessionID != sid {
		t.Errorf("ByDevice = %+v, %v", byDev, ok)
	}
	byCtrl, ok := m.ByController("ctrl-1")
	if !ok || byCtrl.SessionID != sid {
		t.Errorf("ByController = %+v, %v", byCtrl, ok)
	}
	if _, ok := m.ByController("ghost"); ok {
		t.Error("unknown controller should not resolve")
	}
}

func TestCloseRemovesSession(t *testing.T) {
	m, _ := testManager()
	sid := m.Create("dev1")

	if !m.Close(sid) {
		t.Fatal("close failed")
	}
	if m.Close(sid) {
		t.Error("double close should report false")
	}
	if _, ok := m.Get(sid); ok {
		t.Error("closed session visible via Get")
	}
	if m.Join(sid, "ctrl-1") {
		t.Error("joining a closed session should fail")
	}

	// Device can start fresh after close.
	if m.Create("dev1") == sid {
		t.Error("new session should have a new id")
	}
}

func TestLeaveDetachesController(t *testing.T) {
	m, _ := testManager()
	sid := m.Create("dev1")
	m.Join(sid, "ctrl-1")
	m.Leave(sid, "ctrl-1")

	if _, ok := m.ByController("ctrl-1"); ok {
		t.Error("controller should be detached after Leave")
	}
	if _, ok := m.Get(sid); !ok {
		t.Error("Leave must not close the session")
	}
}

func TestCleanupExpired(t *testing.T) {
	m, now := testManager()
	idle := m.Create("dev1")
	busy := m.Create("dev2")

	*now = now.Add(301 * time.Second)
	m.Touch(busy)

	reaped := m.CleanupExpired()
	if len(reaped) != 1 || reaped[0] != idle {
		t.Errorf("reaped = %v, want [%s]", reaped, idle)
	}
	if _, ok := m.Get(idle); ok {
		t.Error("idle session still visible")
	}
	if _, ok := m.Get(busy); !ok {
		t.Error("touched session was reaped")
	}
}

func TestActivityAtExactTimeoutSurvives(t *testing.T) {
	m, now := testManager()
	sid := m.Create("dev1")

	// Reap condition is strictly greater than the timeout.
	*now = now.Add(IdleTimeout)
	if reaped := m.CleanupExpired(); len(reaped) != 0 {
		t.Errorf("session reaped at exactly the timeout: %v", reaped)
	}
	if _, ok := m.Get(sid); !ok {
		t.Error("session should survive at the boundary")
	}
}

func TestJoinRefreshesActivity(t *testing.T) {
	m, now := testManager()
	sid := m.Create("dev1")

	*now = now.Add(250 * time.Second)
	m.Join(sid, "ctrl-1")

	*now = now.Add(250 * time.Second)
	if reaped := m.CleanupExpired(); len(reaped) != 0 {
		t.Errorf("join should have refreshed activity, reaped %v", reaped)
	}
}

func TestListSnapshots(t *testing.T) {
	m, _ := testManager()
	m.Create("dev1")
	m.Create("dev2")

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("List returned %d sessions", len(list))
	}
	for _, s := range list {
		if !s.IsActive {
			t.Errorf("listed session %s not active", s.SessionID)
		}
	}
}
