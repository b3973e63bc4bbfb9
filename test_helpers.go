package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"testing"
	"time"

	"go-liveness-relay/capture"
	"go-liveness-relay/images"
	"go-liveness-relay/models"
	"go-liveness-relay/verification"

	"github.com/stretchr/testify/require"
)

const testBaseURL = "http://localhost:8081"

const testSessionSecret = "0123456789abcdef0123456789abcdef"

var testConfig = ServerConfig{
	Host:           "localhost",
	Port:           8081,
	UseTls:         false,
	TlsCertPath:    "",
	TlsPrivKeyPath: "",
}

var testCaptureOptions = capture.Options{
	PreviewEnabled: true,
	PayloadSize:    images.PayloadNormal,
}

var testStartRequest = models.StartLivenessRequest{
	AuthToken:      "Bearer backend-token",
	TemplateId:     "template-1",
	VerificationId: "verification-1",
}

func newTestTokenIssuer(t *testing.T) *HmacSessionTokenIssuer {
	t.Helper()
	issuer, err := NewHmacSessionTokenIssuer(testSessionSecret, "liveness_relay_test", time.Minute)
	require.NoError(t, err)
	return issuer
}

func startTestServer(t *testing.T, storage SessionStorage, verifier capture.Verifier, options capture.Options) *Server {
	t.Helper()
	return startTestServerWithConfig(t, testConfig, storage, verifier, options)
}

func startTestServerWithConfig(t *testing.T, config ServerConfig, storage SessionStorage, verifier capture.Verifier, options capture.Options) *Server {
	t.Helper()

	testState := &ServerState{
		tokenIssuer:    newTestTokenIssuer(t),
		sessionStorage: storage,
		verifier:       verifier,
		captureOptions: options,
	}

	srv, err := NewServer(testState, config)
	require.NoError(t, err)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("server error: %v", err)
		}
	}()

	waitUntilHealthy(t, testBaseURL+"/api/health")
	t.Cleanup(func() {
		if err := srv.Stop(); err != nil {
			t.Logf("error shutting down server: %v", err)
		}
	})
	return srv
}

func waitUntilHealthy(t *testing.T, url string) {
	t.Helper()
	const maxAttempts = 50
	for i := 0; i < maxAttempts; i++ {
		if resp, err := http.Get(url); err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server did not start in time")
}

func postJSON[T any](t *testing.T, url string, payload any) (*http.Response, []byte, *T) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(b)
	}
	resp, err := http.Post(url, "application/json", body)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var v T
	_ = json.Unmarshal(respBody, &v)

	return resp, respBody, &v
}

// postMultipart sends text fields and file parts the way the device uploads a capture
func postMultipart[T any](t *testing.T, url string, fields map[string]string, files map[string][]byte) (*http.Response, []byte, *T) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for name, value := range fields {
		require.NoError(t, writer.WriteField(name, value))
	}
	for name, content := range files {
		part, err := writer.CreateFormFile(name, name+".bin")
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	resp, err := http.Post(url, writer.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var v T
	_ = json.Unmarshal(respBody, &v)

	return resp, respBody, &v
}

func mustStatus(t *testing.T, resp *http.Response, want int, body []byte) {
	t.Helper()
	require.Equalf(t, want, resp.StatusCode, "body: %s", body)
}

// start-liveness bootstrap
func startLiveness(t *testing.T) (sessionId, sessionToken string) {
	t.Helper()
	resp, body, sr := postJSON[models.StartLivenessResponse](t, testBaseURL+"/api/start-liveness", testStartRequest)
	mustStatus(t, resp, http.StatusOK, body)
	require.NotEmpty(t, sr.SessionId)
	require.NotEmpty(t, sr.SessionToken)
	return sr.SessionId, sr.SessionToken
}

func captureLiveness(t *testing.T, sessionToken string, bundle, photo []byte) (*http.Response, []byte, *models.LivenessResultResponse) {
	t.Helper()
	files := map[string][]byte{models.CapturePartBundle: bundle}
	if photo != nil {
		files[models.CapturePartImage] = photo
	}
	return postMultipart[models.LivenessResultResponse](t, testBaseURL+"/api/capture-liveness",
		map[string]string{models.CapturePartSessionToken: sessionToken}, files)
}

// test doubles

type fakeVerifier struct {
	mu          sync.Mutex
	submissions []verification.Submission
	outcome     *verification.Outcome
	err         error
	block       bool
}

func (f *fakeVerifier) Verify(ctx context.Context, s verification.Submission) (*verification.Outcome, error) {
	f.mu.Lock()
	f.submissions = append(f.submissions, s)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.outcome, f.err
}

func (f *fakeVerifier) calls() []verification.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]verification.Submission(nil), f.submissions...)
}

func liveOutcome(probability float64) *verification.Outcome {
	policy := verification.AcceptParsed{}
	return &verification.Outcome{
		Probability: probability,
		Percent:     verification.ToIntPercent(probability),
		Live:        policy.IsLive(probability),
		Policy:      policy.Name(),
	}
}
