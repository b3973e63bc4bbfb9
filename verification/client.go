package verification

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/net/http2"
)

const (
	EndpointPath   = "/biometricsverification"
	BundleFilename = "capture.bin"
	DataURIPrefix  = "data:image/jpeg;base64,"

	DefaultBaseURL        = "https://integrate.idmetagroup.com/api/v1/verification"
	DefaultConnectTimeout = 3 * time.Minute
	DefaultReadTimeout    = 3 * time.Minute
	DefaultWriteTimeout   = 3 * time.Minute
	DefaultCallTimeout    = 4 * time.Minute
)

// Submission holds everything needed for one liveness verification exchange.
// Nothing in it is validated by the client.
type Submission struct {
	Bundle         []byte // opaque capture bundle from the vendor SDK
	Image          []byte // optional JPEG, omitted from the request when empty
	AuthToken      string
	TemplateId     string
	VerificationId string
}

// Client defines the interface for verification operations
type Client interface {
	// SubmitVerification sends one capture bundle and returns the raw response body
	SubmitVerification(ctx context.Context, submission Submission) (string, error)

	// Verify submits, parses the envelope and applies the liveness policy
	Verify(ctx context.Context, submission Submission) (*Outcome, error)
}

type ClientConfig struct {
	BaseURL        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	CallTimeout    time.Duration
	LogBodies      bool
	Policy         Policy
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:        DefaultBaseURL,
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		CallTimeout:    DefaultCallTimeout,
		Policy:         AcceptParsed{},
	}
}

// HttpVerificationClient implements the Client interface against the
// biometrics verification backend
type HttpVerificationClient struct {
	baseURL    string
	httpClient *http.Client
	logBodies  bool
	policy     Policy
}

// NewHttpVerificationClient creates a new instance of HttpVerificationClient.
// Zero durations fall back to the defaults.
func NewHttpVerificationClient(config ClientConfig) *HttpVerificationClient {
	defaults := DefaultClientConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = defaults.CallTimeout
	}
	if config.Policy == nil {
		config.Policy = defaults.Policy
	}

	return &HttpVerificationClient{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: newHttpClient(config),
		logBodies:  config.LogBodies,
		policy:     config.Policy,
	}
}

func newHttpClient(config ClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   config.WriteTimeout,
		ResponseHeaderTimeout: config.ReadTimeout,
		ExpectContinueTimeout: time.Second,
		IdleConnTimeout:       90 * time.Second,
	}
	// h2 is negotiated through ALPN; plain http backends keep using HTTP/1.1
	if err := http2.ConfigureTransport(transport); err != nil {
		slog.Warn("failed to enable HTTP/2 on verification transport", "error", err)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.CallTimeout,
	}
}

// Policy returns the liveness policy applied by Verify
func (c *HttpVerificationClient) Policy() Policy {
	return c.policy
}

// SubmitVerification performs exactly one POST to <baseURL>/biometricsverification.
// It never retries.
func (c *HttpVerificationClient) SubmitVerification(ctx context.Context, submission Submission) (string, error) {
	req, err := c.buildRequest(ctx, submission)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Op: "execute verification request", Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Debug("failed to close verification response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Op: "read verification response", Err: err}
	}

	if c.logBodies {
		slog.Debug("Verification response received", "status_code", resp.StatusCode, "body", string(body))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", newServerError(resp.StatusCode, body)
	}

	if len(body) == 0 {
		return "", ErrEmptyBody
	}

	slog.Info("Verification request completed", "status_code", resp.StatusCode, "verification_id", submission.VerificationId)
	return string(body), nil
}

// Verify submits the capture and decides liveness from the returned probability
func (c *HttpVerificationClient) Verify(ctx context.Context, submission Submission) (*Outcome, error) {
	raw, err := c.SubmitVerification(ctx, submission)
	if err != nil {
		return nil, err
	}

	envelope, err := ParseEnvelope(raw)
	if err != nil {
		return nil, err
	}

	outcome := Decide(c.policy, envelope)
	outcome.Raw = raw

	slog.Info("Liveness decided", "probability", outcome.Probability, "live", outcome.Live, "policy", c.policy.Name())
	return outcome, nil
}

func (c *HttpVerificationClient) buildRequest(ctx context.Context, submission Submission) (*http.Request, error) {
	url := fmt.Sprintf("%s%s", c.baseURL, EndpointPath)

	body, contentType, err := buildMultipartBody(submission)
	if err != nil {
		return nil, fmt.Errorf("failed to build verification body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", submission.AuthToken)
	req.Header.Set("Accept", "application/json")

	if c.logBodies {
		slog.Debug("Sending verification request",
			"url", url,
			"template_id", submission.TemplateId,
			"verification_id", submission.VerificationId,
			"bundle_size", len(submission.Bundle),
			"image_size", len(submission.Image),
		)
	}

	return req, nil
}

func buildMultipartBody(submission Submission) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, BundleFilename))
	header.Set("Content-Type", "application/octet-stream")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(submission.Bundle); err != nil {
		return nil, "", err
	}

	if err := writer.WriteField("template_id", submission.TemplateId); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("verification_id", submission.VerificationId); err != nil {
		return nil, "", err
	}

	if len(submission.Image) > 0 {
		if err := writer.WriteField("image_base64", DataURI(submission.Image)); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

// DataURI encodes jpeg bytes as a data:image/jpeg;base64 URI
func DataURI(jpeg []byte) string {
	return DataURIPrefix + base64.StdEncoding.EncodeToString(jpeg)
}
