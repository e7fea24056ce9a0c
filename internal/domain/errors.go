package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a quiz session has not been initialized.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrParticipantNotFound is returned when a user tries to act before joining.
	ErrParticipantNotFound = errors.New("participant not found in quiz")
	// ErrInvalidTransition indicates a control command that is not legal in the current state.
	ErrInvalidTransition = errors.New("command not allowed in current quiz state")
	// ErrUnauthorized indicates a non-teacher connection issued a control command.
	ErrUnauthorized = errors.New("only the quiz teacher may do that")
	// ErrTeacherPresent indicates a second teacher tried to claim an already-controlled session.
	ErrTeacherPresent = errors.New("quiz already has a teacher")
	// ErrQuizNotActive indicates a submission while no round is live.
	ErrQuizNotActive = errors.New("quiz is not active")
	// ErrStaleSubmission indicates an answer for a question that is no longer live.
	ErrStaleSubmission = errors.New("submission is for a previous question")
	// ErrDuplicateSubmission indicates a participant already answered this round.
	ErrDuplicateSubmission = errors.New("already answered this question")
	// ErrProblemsExhausted indicates the problem source has no more problems at this level.
	ErrProblemsExhausted = errors.New("no more problems available")
	// ErrUnknownOperation indicates an operation the problem generator does not support.
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrInvalidLevel indicates a level outside the operation's supported range.
	ErrInvalidLevel = errors.New("invalid level for operation")
)
