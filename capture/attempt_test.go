package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go-liveness-relay/images"
	"go-liveness-relay/verification"

	"github.com/stretchr/testify/require"
)

var testIdentity = Identity{
	AuthToken:      "token",
	TemplateId:     "template",
	VerificationId: "verification",
}

var testOptions = Options{PreviewEnabled: true, PayloadSize: images.PayloadNormal}

type fakeVerifier struct {
	mu          sync.Mutex
	calls       int
	submissions []verification.Submission
	outcome     *verification.Outcome
	err         error
	block       bool
	canceled    chan struct{}
}

func (f *fakeVerifier) Verify(ctx context.Context, s verification.Submission) (*verification.Outcome, error) {
	f.mu.Lock()
	f.calls++
	f.submissions = append(f.submissions, s)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		if f.canceled != nil {
			close(f.canceled)
		}
		return nil, ctx.Err()
	}
	return f.outcome, f.err
}

func (f *fakeVerifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func liveOutcome(p float64) *verification.Outcome {
	return &verification.Outcome{Probability: p, Percent: verification.ToIntPercent(p), Live: true, Policy: "accept_parsed"}
}

func waitResult(t *testing.T, a *Attempt) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := a.Wait(ctx)
	require.NoError(t, err)
	return result
}

func TestAttempt_Success(t *testing.T) {
	verifier := &fakeVerifier{outcome: liveOutcome(0.93)}
	a, err := Start(context.Background(), verifier, testIdentity, testOptions)
	require.NoError(t, err)
	require.NotEmpty(t, a.ID())

	photo := []byte{0xff, 0xd8, 0x01}
	a.ReportPhoto(photo)
	require.True(t, a.ReportBundle([]byte("bundle")))

	result := waitResult(t, a)
	require.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, CodeSuccess, result.Code)
	require.Equal(t, "Success", result.Message)
	require.Equal(t, 0.93, result.Outcome.Probability)

	require.Len(t, verifier.submissions, 1)
	submission := verifier.submissions[0]
	require.Equal(t, []byte("bundle"), submission.Bundle)
	require.Equal(t, photo, submission.Image)
	require.Equal(t, "token", submission.AuthToken)
	require.Equal(t, "template", submission.TemplateId)
	require.Equal(t, "verification", submission.VerificationId)
}

func TestAttempt_BundleWithoutPhoto(t *testing.T) {
	verifier := &fakeVerifier{outcome: liveOutcome(0.8)}
	a, err := Start(context.Background(), verifier, testIdentity, testOptions)
	require.NoError(t, err)

	a.ReportBundle([]byte("bundle"))
	waitResult(t, a)

	require.Nil(t, verifier.submissions[0].Image)
}

func TestAttempt_VerificationError(t *testing.T) {
	verifier := &fakeVerifier{err: &verification.ServerError{StatusCode: 403, Message: "invalid token", Body: `{"message":"invalid token"}`}}
	a, err := Start(context.Background(), verifier, testIdentity, testOptions)
	require.NoError(t, err)

	a.ReportBundle([]byte("bundle"))
	result := waitResult(t, a)

	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, CodeLivenessFailed, result.Code)
	require.Contains(t, result.Message, "invalid token")

	var serverErr *verification.ServerError
	require.ErrorAs(t, result.Err, &serverErr)
}

func TestAttempt_RejectedOutcome(t *testing.T) {
	outcome := &verification.Outcome{Probability: 0.2, Percent: 20, Live: false, Policy: "threshold(0.50)"}
	verifier := &fakeVerifier{outcome: outcome}
	a, err := Start(context.Background(), verifier, testIdentity, testOptions)
	require.NoError(t, err)

	a.ReportBundle([]byte("bundle"))
	result := waitResult(t, a)

	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, CodeLivenessFailed, result.Code)
	require.Equal(t, outcome, result.Outcome)
}

func TestAttempt_CancelAbortsSubmission(t *testing.T) {
	verifier := &fakeVerifier{block: true, canceled: make(chan struct{})}
	a, err := Start(context.Background(), verifier, testIdentity, testOptions)
	require.NoError(t, err)

	a.ReportBundle([]byte("bundle"))
	require.Eventually(t, func() bool { return verifier.callCount() == 1 }, time.Second, 5*time.Millisecond)

	a.Cancel()
	result := waitResult(t, a)
	require.Equal(t, StatusCanceled, result.Status)
	require.Equal(t, CodeCanceled, result.Code)
	require.Equal(t, MsgCanceled, result.Message)

	select {
	case <-verifier.canceled:
	case <-time.After(time.Second):
		t.Fatal("in-flight submission was not canceled")
	}
}

func TestAttempt_ParentContextCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a, err := Start(ctx, &fakeVerifier{}, testIdentity, testOptions)
	require.NoError(t, err)

	cancel()
	result := waitResult(t, a)
	require.Equal(t, StatusCanceled, result.Status)
}

func TestAttempt_ReportError(t *testing.T) {
	a, err := Start(context.Background(), &fakeVerifier{}, testIdentity, testOptions)
	require.NoError(t, err)

	a.ReportError(errors.New("camera unavailable"))
	result := waitResult(t, a)
	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, CodeLivenessFailed, result.Code)
	require.Equal(t, "camera unavailable", result.Message)
}

func TestAttempt_ReportNilError(t *testing.T) {
	a, err := Start(context.Background(), &fakeVerifier{}, testIdentity, testOptions)
	require.NoError(t, err)

	a.ReportError(nil)
	result := waitResult(t, a)
	require.Equal(t, CodeUnknownError, result.Code)
	require.Equal(t, MsgUnknownError, result.Message)
}

func TestAttempt_FirstTerminalStateWins(t *testing.T) {
	verifier := &fakeVerifier{outcome: liveOutcome(0.9)}
	a, err := Start(context.Background(), verifier, testIdentity, testOptions)
	require.NoError(t, err)

	a.Cancel()
	require.False(t, a.ReportBundle([]byte("bundle")))
	a.ReportError(errors.New("late error"))

	result := waitResult(t, a)
	require.Equal(t, StatusCanceled, result.Status)
	require.Equal(t, 0, verifier.callCount())
}

func TestAttempt_OnlyFirstBundleSubmitted(t *testing.T) {
	verifier := &fakeVerifier{block: true}
	a, err := Start(context.Background(), verifier, testIdentity, testOptions)
	require.NoError(t, err)

	require.True(t, a.ReportBundle([]byte("first")))
	require.False(t, a.ReportBundle([]byte("second")))
	require.Eventually(t, func() bool { return verifier.callCount() == 1 }, time.Second, 5*time.Millisecond)

	a.Cancel()
	waitResult(t, a)
	require.Equal(t, 1, verifier.callCount())
}

func TestAttempt_HintsDeliveredAndClosed(t *testing.T) {
	a, err := Start(context.Background(), &fakeVerifier{}, testIdentity, testOptions)
	require.NoError(t, err)

	a.ReportHint("FaceNotCentered")
	a.ReportHint("SunglassesDetected")
	for i := 0; i < hintBufferSize*2; i++ {
		a.ReportHint("TooFar") // must not block once the buffer is full
	}
	a.Cancel()
	a.ReportHint("ignored")

	var hints []string
	for hint := range a.Hints() {
		hints = append(hints, hint)
	}
	require.Len(t, hints, hintBufferSize)
	require.Equal(t, "FaceNotCentered", hints[0])
	require.Equal(t, "SunglassesDetected", hints[1])
}

func TestAttempt_ResultPendingUntilDone(t *testing.T) {
	a, err := Start(context.Background(), &fakeVerifier{}, testIdentity, testOptions)
	require.NoError(t, err)
	require.Equal(t, StatusPending, a.Result().Status)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	a.Cancel()
	<-a.Done()
	require.Equal(t, StatusCanceled, a.Result().Status)
}

func TestStart_LicenseError(t *testing.T) {
	options := testOptions
	options.LicenseErr = errors.New("license expired on 2026-07-13")

	a, err := Start(context.Background(), &fakeVerifier{}, testIdentity, options)
	require.Nil(t, a)
	require.ErrorIs(t, err, ErrLicense)
}

func TestStart_NoVerifier(t *testing.T) {
	_, err := Start(context.Background(), nil, testIdentity, testOptions)
	require.Error(t, err)
}
