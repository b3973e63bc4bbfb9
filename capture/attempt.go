// Package capture turns the capture lifecycle events of the on-device liveness
// SDK (detection hints, captured photo, encrypted bundle, errors) into a single
// attempt with an explicit terminal result.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go-liveness-relay/images"
	"go-liveness-relay/verification"

	"github.com/google/uuid"
)

const (
	CodeSuccess        = "SUCCESS"
	CodeLivenessFailed = "LIVENESS_FAILED"
	CodeCanceled       = "CANCELED"
	CodeUnknownError   = "UNKNOWN_ERROR"

	MsgCanceled     = "Liveness check was canceled by the user."
	MsgUnknownError = "An unknown error occurred."

	hintBufferSize = 16
)

var ErrLicense = errors.New("liveness license is not valid")

type Status int

const (
	StatusPending Status = iota
	StatusSuccess
	StatusFailed
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	default:
		return "pending"
	}
}

// Result is the terminal state of an attempt
type Result struct {
	Status  Status
	Code    string
	Message string
	Outcome *verification.Outcome // set when the backend answered with a parseable envelope
	Err     error
}

// Verifier is satisfied by verification.HttpVerificationClient
type Verifier interface {
	Verify(ctx context.Context, submission verification.Submission) (*verification.Outcome, error)
}

var _ Verifier = (*verification.HttpVerificationClient)(nil)

// Attempt is one liveness capture, from the first detection hint up to its terminal result.
// All methods are safe for concurrent use.
type Attempt struct {
	id       string
	identity Identity
	options  Options
	verifier Verifier

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	photo     []byte
	submitted bool
	finished  bool
	result    Result
	hints     chan string
	done      chan struct{}
}

// Start opens a new attempt. Cancelling ctx cancels the attempt.
func Start(ctx context.Context, verifier Verifier, identity Identity, options Options) (*Attempt, error) {
	if err := options.CheckLicense(time.Now()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLicense, err)
	}
	if verifier == nil {
		return nil, fmt.Errorf("no verifier configured")
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	a := &Attempt{
		id:       uuid.NewString(),
		identity: identity,
		options:  options,
		verifier: verifier,
		ctx:      attemptCtx,
		cancel:   cancel,
		hints:    make(chan string, hintBufferSize),
		done:     make(chan struct{}),
	}

	go func() {
		select {
		case <-a.done:
		case <-attemptCtx.Done():
			a.finish(canceledResult())
		}
	}()

	slog.Info("Capture attempt started", "attempt_id", a.id, "verification_id", identity.VerificationId,
		"payload_size", options.PayloadSize)
	return a, nil
}

func (a *Attempt) ID() string {
	return a.id
}

// Hints delivers face detection hints. It is closed once the attempt terminates.
func (a *Attempt) Hints() <-chan string {
	return a.hints
}

// ReportHint publishes a detection hint; hints are dropped when nobody keeps up
func (a *Attempt) ReportHint(hint string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finished {
		return
	}
	select {
	case a.hints <- hint:
	default:
		slog.Debug("Dropping detection hint", "attempt_id", a.id, "hint", hint)
	}
}

// ReportPhoto stores the captured JPEG for the upcoming submission
func (a *Attempt) ReportPhoto(photo []byte) {
	prepared, err := images.PrepareCapturedPhoto(photo, a.options.PayloadSize)
	if err != nil {
		slog.Warn("Failed to prepare captured photo, sending it unchanged", "attempt_id", a.id, "error", err)
		prepared = photo
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return
	}
	a.photo = append([]byte(nil), prepared...)
	slog.Debug("Captured photo stored", "attempt_id", a.id, "size", len(a.photo))
}

// ReportBundle submits the capture bundle. Only the first bundle of an attempt is
// submitted; it returns false when the bundle was ignored.
func (a *Attempt) ReportBundle(bundle []byte) bool {
	a.mu.Lock()
	if a.finished || a.submitted {
		a.mu.Unlock()
		slog.Warn("Ignoring capture bundle", "attempt_id", a.id, "finished", a.finished, "submitted", a.submitted)
		return false
	}
	a.submitted = true
	submission := verification.Submission{
		Bundle:         bundle,
		Image:          a.photo,
		AuthToken:      a.identity.AuthToken,
		TemplateId:     a.identity.TemplateId,
		VerificationId: a.identity.VerificationId,
	}
	a.mu.Unlock()

	go a.submit(submission)
	return true
}

func (a *Attempt) submit(submission verification.Submission) {
	slog.Debug("Submitting capture bundle", "attempt_id", a.id, "bundle_size", len(submission.Bundle))

	outcome, err := a.verifier.Verify(a.ctx, submission)
	switch {
	case err != nil && a.ctx.Err() != nil:
		a.finish(canceledResult())
	case err != nil:
		a.finish(Result{Status: StatusFailed, Code: CodeLivenessFailed, Message: err.Error(), Err: err})
	case !outcome.Live:
		a.finish(Result{Status: StatusFailed, Code: CodeLivenessFailed, Message: outcome.Message(), Outcome: outcome})
	default:
		a.finish(Result{Status: StatusSuccess, Code: CodeSuccess, Message: outcome.Message(), Outcome: outcome})
	}
}

// ReportError terminates the attempt after a camera or detection error
func (a *Attempt) ReportError(err error) {
	if err == nil {
		a.finish(Result{Status: StatusFailed, Code: CodeUnknownError, Message: MsgUnknownError})
		return
	}
	a.finish(Result{Status: StatusFailed, Code: CodeLivenessFailed, Message: err.Error(), Err: err})
}

// Cancel terminates the attempt and aborts an in-flight submission
func (a *Attempt) Cancel() {
	a.finish(canceledResult())
}

func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Result returns the terminal result, or a pending one while the attempt runs
func (a *Attempt) Result() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result
}

// Wait blocks until the attempt terminates or ctx is done
func (a *Attempt) Wait(ctx context.Context) (Result, error) {
	select {
	case <-a.done:
		return a.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// finish records the first terminal result; later calls are no-ops
func (a *Attempt) finish(result Result) bool {
	a.mu.Lock()
	if a.finished {
		a.mu.Unlock()
		return false
	}
	a.finished = true
	a.result = result
	a.photo = nil
	close(a.hints)
	a.mu.Unlock()

	close(a.done)
	a.cancel()

	slog.Info("Capture attempt finished", "attempt_id", a.id, "status", result.Status, "code", result.Code, "message", result.Message)
	return true
}

func canceledResult() Result {
	return Result{Status: StatusCanceled, Code: CodeCanceled, Message: MsgCanceled, Err: context.Canceled}
}
