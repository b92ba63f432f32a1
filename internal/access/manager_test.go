package access

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"stockclass/internal/game"
	"stockclass/internal/kv"
)

func newTestManager(t *testing.T) (*Manager, *game.GameState) {
	t.Helper()
	g := game.New(kv.NewMemoryStore(),
		game.WithSeedStocks([]game.Stock{{Ticker: "AAA", Name: "Triple A", Price: decimal.NewFromInt(100)}}))
	if _, err := g.SeedStocks(nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return NewManager(g, nil), g
}

func TestLoginTeacherAnyCase(t *testing.T) {
	for _, name := range []string{"teacher", "Teacher", "TEACHER", " tEaChEr "} {
		m, g := newTestManager(t)
		if !m.Login(name) {
			t.Fatalf("login %q failed", name)
		}
		if m.Role() != RoleTeacher || !m.IsTeacher() {
			t.Fatalf("login %q role=%q", name, m.Role())
		}
		if n := len(g.Students()); n != 0 {
			t.Fatalf("login %q created %d students", name, n)
		}
	}
}

func TestLoginStudentCreatesThenResumes(t *testing.T) {
	m, g := newTestManager(t)
	if !m.Login("Ana") {
		t.Fatalf("first login failed")
	}
	first := m.CurrentUser()
	m.Logout()
	if m.IsLoggedIn() || m.CurrentUser() != "" {
		t.Fatalf("logout left session %+v", m.Session())
	}

	if !m.Login("ana") {
		t.Fatalf("second login failed")
	}
	if m.CurrentUser() != first {
		t.Fatalf("resumed %q want %q", m.CurrentUser(), first)
	}
	if n := len(g.Students()); n != 1 {
		t.Fatalf("students=%d want 1", n)
	}
	st, ok := m.CurrentStudent()
	if !ok || st.Name != "Ana" {
		t.Fatalf("current student=%+v ok=%v", st, ok)
	}
}

func TestLoginRejectsBlank(t *testing.T) {
	m, _ := newTestManager(t)
	for _, name := range []string{"", "   ", "\t"} {
		if m.Login(name) {
			t.Fatalf("login %q should fail", name)
		}
	}
	if m.IsLoggedIn() {
		t.Fatalf("blank login left a session")
	}
}

func TestPermissions(t *testing.T) {
	tests := []struct {
		name                            string
		login                           string
		all, market, reset, trade, view bool
	}{
		{name: "logged out"},
		{name: "student", login: "Ana", trade: true, view: true},
		{name: "teacher", login: "Teacher", all: true, market: true, reset: true},
	}
	for _, tc := range tests {
		m, _ := newTestManager(t)
		if tc.login != "" && !m.Login(tc.login) {
			t.Fatalf("%s: login failed", tc.name)
		}
		got := []bool{m.CanViewAllData(), m.CanModifyMarket(), m.CanResetGame(), m.CanTrade(), m.CanViewOwnPortfolio()}
		want := []bool{tc.all, tc.market, tc.reset, tc.trade, tc.view}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("%s: predicate %d = %v want %v", tc.name, i, got[i], want[i])
			}
		}
		if m.CanAccessTeacherControls() != tc.all {
			t.Fatalf("%s: teacher controls mismatch", tc.name)
		}
	}
}

func TestRequire(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.Require(m.CanTrade()); err != ErrNotLoggedIn {
		t.Fatalf("err=%v want ErrNotLoggedIn", err)
	}
	m.Login("teacher")
	if err := m.Require(m.CanTrade()); err != ErrForbidden {
		t.Fatalf("err=%v want ErrForbidden", err)
	}
	if err := m.Require(m.CanResetGame()); err != nil {
		t.Fatalf("err=%v want nil", err)
	}
}

func TestResume(t *testing.T) {
	m, g := newTestManager(t)
	m.Login("Ana")
	saved := m.Session()

	other := NewManager(g, nil)
	if !other.Resume(saved) || other.CurrentUser() != saved.User || other.Role() != RoleStudent {
		t.Fatalf("resume student failed: %+v", other.Session())
	}
	if !other.Resume(Session{Role: RoleTeacher}) || !other.IsTeacher() {
		t.Fatalf("resume teacher failed")
	}

	g.ResetGame()
	if other.Resume(saved) {
		t.Fatalf("resume of a removed student should fail")
	}
	if other.IsLoggedIn() {
		t.Fatalf("failed resume left a session")
	}
	if other.Resume(Session{}) {
		t.Fatalf("empty session should not resume")
	}
}

func TestStudentPermissionsFollowRoster(t *testing.T) {
	m, g := newTestManager(t)
	if !m.Login("Ana") {
		t.Fatalf("login failed")
	}
	if !m.CanTrade() || !m.CanViewOwnPortfolio() {
		t.Fatalf("fresh student should trade and view portfolio")
	}

	g.ResetGame()
	if m.CanTrade() || m.CanViewOwnPortfolio() {
		t.Fatalf("student removed by reset still has permissions")
	}
	if err := m.Require(m.CanTrade()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Require after reset = %v, want ErrForbidden", err)
	}

	if !m.Login("Ana") {
		t.Fatalf("re-login failed")
	}
	if !m.CanTrade() {
		t.Fatalf("re-registered student should trade")
	}
}
