// Package access tracks who is using the classroom game and what they may
// do. The role is self-declared by name: entering the teacher keyword grants
// teacher controls, any other name is a student.
package access

import (
	"errors"
	"log/slog"
	"strings"

	"stockclass/internal/game"
)

// TeacherKeyword is the reserved login name for the teacher role.
const TeacherKeyword = "teacher"

// SessionKey is the key-value entry hosts use to remember a session.
const SessionKey = "stockGameSession"

type Role string

const (
	RoleNone    Role = ""
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

var (
	ErrNotLoggedIn = errors.New("not logged in")
	ErrForbidden   = errors.New("not permitted for this role")
)

// Session is the serializable form of a login.
type Session struct {
	User string `json:"user"`
	Role Role   `json:"role"`
}

// Manager holds the single current session over one game.
type Manager struct {
	game *game.GameState
	log  *slog.Logger

	user string
	role Role
}

func NewManager(g *game.GameState, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{game: g, log: logger}
}

// Login enters the teacher session, resumes an existing student by name or
// registers a new one. It reports false for blank names or when the student
// cannot be created.
func (m *Manager) Login(username string) bool {
	name := strings.TrimSpace(username)
	if name == "" {
		return false
	}
	if strings.EqualFold(name, TeacherKeyword) {
		m.user, m.role = TeacherKeyword, RoleTeacher
		m.log.Info("teacher logged in")
		return true
	}
	if st, ok := m.game.StudentByName(name); ok {
		m.user, m.role = st.ID, RoleStudent
		m.log.Info("student resumed", "student_id", st.ID, "name", st.Name)
		return true
	}
	st, err := m.game.AddStudent(name)
	if err != nil {
		m.log.Warn("login failed", "name", name, "err", err)
		return false
	}
	m.user, m.role = st.ID, RoleStudent
	return true
}

func (m *Manager) Logout() {
	m.user, m.role = "", RoleNone
}

// Session returns the current login for storage between runs.
func (m *Manager) Session() Session {
	return Session{User: m.user, Role: m.role}
}

// Resume re-enters a stored session. A student session is only accepted
// while that student still exists.
func (m *Manager) Resume(s Session) bool {
	switch s.Role {
	case RoleTeacher:
		m.user, m.role = TeacherKeyword, RoleTeacher
		return true
	case RoleStudent:
		if _, ok := m.game.Student(s.User); !ok {
			m.Logout()
			return false
		}
		m.user, m.role = s.User, RoleStudent
		return true
	}
	m.Logout()
	return false
}

func (m *Manager) Role() Role { return m.role }

// CurrentUser is the student id, the teacher keyword, or empty.
func (m *Manager) CurrentUser() string { return m.user }

// CurrentStudent returns the logged-in student's record.
func (m *Manager) CurrentStudent() (game.Student, bool) {
	if m.role != RoleStudent {
		return game.Student{}, false
	}
	return m.game.Student(m.user)
}

func (m *Manager) IsLoggedIn() bool { return m.role != RoleNone }
func (m *Manager) IsTeacher() bool  { return m.role == RoleTeacher }

func (m *Manager) CanViewAllData() bool           { return m.IsTeacher() }
func (m *Manager) CanModifyMarket() bool          { return m.IsTeacher() }
func (m *Manager) CanResetGame() bool             { return m.IsTeacher() }
func (m *Manager) CanAccessTeacherControls() bool { return m.IsTeacher() }

// CanTrade and CanViewOwnPortfolio hold only while the logged-in student
// still exists; a reset or restore can remove them.
func (m *Manager) CanTrade() bool            { return m.hasStudent() }
func (m *Manager) CanViewOwnPortfolio() bool { return m.hasStudent() }

func (m *Manager) hasStudent() bool {
	_, ok := m.CurrentStudent()
	return ok
}

// Require returns ErrNotLoggedIn or ErrForbidden when allowed is false.
func (m *Manager) Require(allowed bool) error {
	if allowed {
		return nil
	}
	if !m.IsLoggedIn() {
		return ErrNotLoggedIn
	}
	return ErrForbidden
}
