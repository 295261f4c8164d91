// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery

import (
	"time"

	"github.com/google/uuid"
)

// VerificationWindow is how long a successful proof verification stays
// valid before the password reset must restart.
const VerificationWindow = 10 * time.Minute

// Step is the position of a recovery attempt in the state machine.
type Step int

const (
	StepIdentify Step = iota
	StepChooseMethod
	StepVerify
	StepSetPassword
	StepComplete
)

// String returns the step name for logging.
func (s Step) String() string {
	switch s {
	case StepIdentify:
		return "identify"
	case StepChooseMethod:
		return "choose_method"
	case StepVerify:
		return "verify"
	case StepSetPassword:
		return "set_password"
	case StepComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// pendingVerification binds the proof material to the moment local
// verification succeeded. It lives only in memory, is never persisted
// or logged, and is overwritten by every new verification.
type pendingVerification struct { //nolint:govet // fieldalignment: readability over optimization
	method     string
	answer1    string
	answer2    string
	code       string
	codeHash   string
	verifiedAt time.Time
}

// expired reports whether the verification window has passed.
func (p *pendingVerification) expired(now time.Time) bool {
	return now.Sub(p.verifiedAt) > VerificationWindow
}

// Session is one recovery attempt. Each attempt gets its own Session;
// there is no process-wide shared state.
type Session struct { //nolint:govet // fieldalignment: readability over optimization
	ID        string
	step      Step
	username  string
	userID    int64
	question1 string
	question2 string
	pending   *pendingVerification
}

// NewSession creates a fresh recovery session at the identify step.
func NewSession() *Session {
	return &Session{
		ID:   uuid.New().String(),
		step: StepIdentify,
	}
}

// Step returns the current state machine position.
func (s *Session) Step() Step {
	return s.step
}

// Username returns the identified username, empty before identify.
func (s *Session) Username() string {
	return s.username
}

// Questions returns the cached question references for display.
// Answer hashes are never cached on the session.
func (s *Session) Questions() (string, string) {
	return s.question1, s.question2
}

// Reset returns the session to the identify step and destroys any
// pending verification. Allowed from every state.
func (s *Session) Reset() {
	s.step = StepIdentify
	s.username = ""
	s.userID = 0
	s.question1 = ""
	s.question2 = ""
	s.pending = nil
}
