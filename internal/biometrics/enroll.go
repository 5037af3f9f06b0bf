package biometrics

import (
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/agalue/ember/internal/core"
)

// EnrollState is a step of the enrollment state machine (spec §4.7).
type EnrollState string

const (
	EnrollIdle       EnrollState = "idle"
	EnrollCollecting EnrollState = "collecting"
	EnrollFinalized  EnrollState = "finalized"
	EnrollCancelled  EnrollState = "cancelled"
)

// Params bundles the biometrics config keys that govern enrollment and
// verification (spec §6 biometrics.* keys).
type Params struct {
	EnrollUtterancesMin int
	UtteranceMinMs      int
	VerifyThreshold     float64
	MaxVerifyMs         int
}

// DefaultParams returns the spec §6 defaults.
func DefaultParams() Params {
	return Params{
		EnrollUtterancesMin: 3,
		UtteranceMinMs:      2000,
		VerifyThreshold:     0.82,
		MaxVerifyMs:         4000,
	}
}

// EnrollmentSession drives one user's Idle→Collecting→Finalized|Cancelled
// lifecycle. At most one session is Collecting at a time per
// EnrollmentSession instance; Start while Collecting is rejected.
type EnrollmentSession struct {
	params    Params
	extractor Extractor
	sampleHz  int

	mu         sync.Mutex
	state      EnrollState
	user       string
	token      string
	utterances []Embedding
}

// NewEnrollmentSession creates a session bound to extractor, using
// sampleHz (16000 per spec §4.7) to convert sample counts to durations.
func NewEnrollmentSession(extractor Extractor, params Params, sampleHz int) *EnrollmentSession {
	return &EnrollmentSession{
		params:    params,
		extractor: extractor,
		sampleHz:  sampleHz,
		state:     EnrollIdle,
	}
}

// Start begins collecting utterances for user. It is an error to start while
// a session is already Collecting; a Finalized or Cancelled session resets
// to Idle implicitly on Start, and Idle→Start is always allowed.
func (s *EnrollmentSession) Start(user string) error {
	if err := core.ValidateUserID(user); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == EnrollCollecting {
		return core.NewError(core.CodeInProgress, "an enrollment session is already in progress").WithField("user", s.user)
	}
	s.state = EnrollCollecting
	s.user = user
	s.token = uuid.NewString()
	s.utterances = nil
	return nil
}

// Token returns the identifier of the current (or most recent) session,
// for a host command surface to correlate enroll_add_sample calls with
// the enroll_start that began the session.
func (s *EnrollmentSession) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// AddSample extracts an embedding from samples and appends it to the
// current session, rejecting utterances shorter than UtteranceMinMs.
func (s *EnrollmentSession) AddSample(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != EnrollCollecting {
		return core.NewError(core.CodeEnrollmentIncomplete, "no enrollment session is collecting")
	}

	durationMs := len(samples) * 1000 / s.sampleHz
	if durationMs < s.params.UtteranceMinMs {
		return core.NewError(core.CodeUtteranceTooShort, "utterance shorter than the minimum duration").
			WithField("duration_ms", strconv.Itoa(durationMs))
	}

	e, err := s.extractor.Extract(samples)
	if err != nil {
		return err
	}
	s.utterances = append(s.utterances, e)
	return nil
}

// Finalize averages the collected utterances into a single L2-normalized
// embedding. It fails if fewer than EnrollUtterancesMin utterances were
// collected.
func (s *EnrollmentSession) Finalize() (string, Embedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != EnrollCollecting {
		return "", nil, core.NewError(core.CodeEnrollmentIncomplete, "no enrollment session is collecting")
	}
	if len(s.utterances) < s.params.EnrollUtterancesMin {
		return "", nil, core.NewError(core.CodeEnrollmentIncomplete, "not enough utterances collected").
			WithField("collected", strconv.Itoa(len(s.utterances)))
	}

	embedding := Average(s.utterances)
	user := s.user
	s.state = EnrollFinalized
	return user, embedding, nil
}

// Cancel discards the current session's user and utterances and moves it to
// Cancelled, from which Start is allowed just as from Idle.
func (s *EnrollmentSession) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = EnrollCancelled
	s.user = ""
	s.utterances = nil
}

// State returns the session's current state.
func (s *EnrollmentSession) State() EnrollState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UtteranceCount returns how many utterances have been collected so far.
func (s *EnrollmentSession) UtteranceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.utterances)
}

