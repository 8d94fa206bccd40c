package workflow

// Session holds the operator's credentials for the duration of the program.
// OnAuthExpired, when set, runs once when the token is invalidated so the
// UI can prompt for a fresh sign-in.
type Session struct {
	Token         string
	OnAuthExpired func()
}

// Authenticated reports whether a token is present.
func (s *Session) Authenticated() bool {
	return s != nil && s.Token != ""
}

// Expire clears the token and fires the expiry hook.
func (s *Session) Expire() {
	if s == nil {
		return
	}
	s.Token = ""
	if s.OnAuthExpired != nil {
		s.OnAuthExpired()
	}
}

// Clear drops the token without treating it as an expiry.
func (s *Session) Clear() {
	if s != nil {
		s.Token = ""
	}
}
