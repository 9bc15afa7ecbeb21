package models

import "time"

// SessionContext is the explicit per-user context passed to every backend
// call: the selected workspace and the auth credentials. It is created at
// login, updated on workspace selection and token refresh, and deleted at logout.
type SessionContext struct {
	ID           string    `json:"id"`
	WorkspaceID  string    `json:"workspace_id,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	UserRole     string    `json:"user_role,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Version      int64     `json:"version"`
}

// Authenticated reports whether the session carries an access token.
func (s *SessionContext) Authenticated() bool {
	return s != nil && s.AccessToken != ""
}

// SessionView is the session as exposed to the browser, without credentials.
type SessionView struct {
	ID            string `json:"id"`
	WorkspaceID   string `json:"workspace_id,omitempty"`
	UserRole      string `json:"user_role,omitempty"`
	Authenticated bool   `json:"authenticated"`
}

// View strips credentials from the session.
func (s *SessionContext) View() SessionView {
	return SessionView{
		ID:            s.ID,
		WorkspaceID:   s.WorkspaceID,
		UserRole:      s.UserRole,
		Authenticated: s.Authenticated(),
	}
}
