package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"go-liveness-relay/capture"
	"go-liveness-relay/models"
	"go-liveness-relay/verification"

	"github.com/gorilla/mux"
)

const (
	CodeMissingArguments = "MISSING_ARGUMENTS"
	CodeLicenseInvalid   = "LICENSE_INVALID"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeInvalidSession   = "INVALID_SESSION"
	CodeMissingBundle    = "MISSING_BUNDLE"
	CodeSessionInUse     = "SESSION_IN_USE"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	ErrorInternal        = "INTERNAL_ERROR"
)

const ERR_MARSHAL = "failed to marshal response message"
const ERR_DECODE = "failed to decode request body"
const ERR_SESSION_TOKEN = "invalid or expired session token"
const ERR_SESSION_RETRIEVAL = "failed to get session from storage"
const ERR_SESSION_REMOVAL = "failed to remove session from storage"

const (
	maxCaptureRequestSize = 32 << 20
	maxCaptureMemory      = 8 << 20

	DefaultReadHeaderTimeout = 30 * time.Second
	// bundle uploads come in over mobile links
	DefaultServerReadTimeout = verification.DefaultReadTimeout
	// a capture answer waits for the upload and then for the verification call
	DefaultServerWriteTimeout = DefaultServerReadTimeout + verification.DefaultCallTimeout + time.Minute
)

type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	UseTls         bool   `json:"use_tls,omitempty"`
	TlsPrivKeyPath string `json:"tls_priv_key_path,omitempty"`
	TlsCertPath    string `json:"tls_cert_path,omitempty"`

	ReadHeaderTimeoutSeconds int `json:"read_header_timeout_seconds,omitempty"`
	ReadTimeoutSeconds       int `json:"read_timeout_seconds,omitempty"`
	WriteTimeoutSeconds      int `json:"write_timeout_seconds,omitempty"`
}

// timeouts returns the header, read and write timeouts; zero values keep the defaults
func (c ServerConfig) timeouts() (readHeader, read, write time.Duration) {
	readHeader, read, write = DefaultReadHeaderTimeout, DefaultServerReadTimeout, DefaultServerWriteTimeout
	if c.ReadHeaderTimeoutSeconds > 0 {
		readHeader = time.Duration(c.ReadHeaderTimeoutSeconds) * time.Second
	}
	if c.ReadTimeoutSeconds > 0 {
		read = time.Duration(c.ReadTimeoutSeconds) * time.Second
	}
	if c.WriteTimeoutSeconds > 0 {
		write = time.Duration(c.WriteTimeoutSeconds) * time.Second
	}
	return readHeader, read, write
}

type ServerState struct {
	tokenIssuer    SessionTokenIssuer
	sessionStorage SessionStorage
	verifier       capture.Verifier
	captureOptions capture.Options
	attempts       *activeAttempts
}

type Server struct {
	server *http.Server
	config ServerConfig
}

// activeAttempts tracks the running capture attempt of each session
type activeAttempts struct {
	mutex    sync.Mutex
	attempts map[string]*capture.Attempt
}

func newActiveAttempts() *activeAttempts {
	return &activeAttempts{attempts: make(map[string]*capture.Attempt)}
}

// claim registers the attempt for the session, false when one is already running
func (a *activeAttempts) claim(sessionId string, attempt *capture.Attempt) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if _, ok := a.attempts[sessionId]; ok {
		return false
	}
	a.attempts[sessionId] = attempt
	return true
}

func (a *activeAttempts) release(sessionId string) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	delete(a.attempts, sessionId)
}

// cancel cancels the running attempt of the session, if any
func (a *activeAttempts) cancel(sessionId string) bool {
	a.mutex.Lock()
	attempt, ok := a.attempts[sessionId]
	a.mutex.Unlock()

	if ok {
		attempt.Cancel()
	}
	return ok
}

func (s *Server) ListenAndServe() error {
	if s.config.UseTls {
		slog.Info("Starting server with TLS", "host", s.config.Host, "port", s.config.Port, "cert", s.config.TlsCertPath, "key", s.config.TlsPrivKeyPath)
		return s.server.ListenAndServeTLS(s.config.TlsCertPath, s.config.TlsPrivKeyPath)
	} else {
		slog.Info("Starting server without TLS", "host", s.config.Host, "port", s.config.Port)
		return s.server.ListenAndServe()
	}
}

func (s *Server) Stop() error {
	slog.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		slog.Error("Error during server shutdown", "error", err)
	} else {
		slog.Info("Server shut down successfully")
	}
	return err
}

func NewServer(state *ServerState, config ServerConfig) (*Server, error) {
	slog.Info("Creating new server", "host", config.Host, "port", config.Port, "tls", config.UseTls)
	if state.attempts == nil {
		state.attempts = newActiveAttempts()
	}

	router := mux.NewRouter()

	router.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("Health check request received")
		err := json.NewEncoder(w).Encode(map[string]bool{"ok": true})
		if err != nil {
			slog.Error("failed to write body to http response", "error", err)
		}
	}).Methods(http.MethodGet)

	router.HandleFunc("/api/start-liveness", func(w http.ResponseWriter, r *http.Request) {
		handleStartLiveness(state, w, r)
	})
	router.HandleFunc("/api/capture-liveness", func(w http.ResponseWriter, r *http.Request) {
		handleCaptureLiveness(state, w, r)
	})
	router.HandleFunc("/api/cancel-liveness", func(w http.ResponseWriter, r *http.Request) {
		handleCancelLiveness(state, w, r)
	})
	slog.Debug("Registered all API routes")

	addr := fmt.Sprintf("%v:%v", config.Host, config.Port)
	readHeaderTimeout, readTimeout, writeTimeout := config.timeouts()
	srv := &http.Server{
		Handler:           router,
		Addr:              addr,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
	}

	slog.Info("Server created successfully", "address", addr, "read_timeout", readTimeout, "write_timeout", writeTimeout)
	return &Server{
		server: srv,
		config: config,
	}, nil
}

func handleStartLiveness(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received request to start a liveness check")

	var request models.StartLivenessRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithErr(w, http.StatusBadRequest, CodeInvalidRequest, ERR_DECODE, err)
		return
	}

	identity := capture.Identity{
		AuthToken:      request.AuthToken,
		TemplateId:     request.TemplateId,
		VerificationId: request.VerificationId,
	}
	if err := identity.Validate(); err != nil {
		respondWithErr(w, http.StatusBadRequest, CodeMissingArguments, capture.ErrMissingArguments.Error(), err)
		return
	}

	if err := state.captureOptions.CheckLicense(time.Now()); err != nil {
		respondWithErr(w, http.StatusServiceUnavailable, CodeLicenseInvalid, capture.ErrLicense.Error(), err)
		return
	}

	sessionId := GenerateSessionId()
	if sessionId == "" {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to generate session ID", fmt.Errorf("failed to generate session ID"))
		return
	}

	slog.Debug("Storing identity in session storage", "session_id", sessionId, "verification_id", identity.VerificationId)
	if err := state.sessionStorage.StoreSession(sessionId, identity); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to store session", err)
		return
	}

	token, err := state.tokenIssuer.CreateSessionToken(sessionId)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to create session token", err)
		return
	}

	response := models.StartLivenessResponse{
		SessionId:    sessionId,
		SessionToken: token,
		CaptureOptions: models.CaptureOptions{
			PreviewEnabled: state.captureOptions.PreviewEnabled,
			PayloadSize:    string(state.captureOptions.PayloadSize),
		},
	}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}

	slog.Info("Liveness check started successfully", "session_id", sessionId)
}

func handleCaptureLiveness(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received capture bundle")

	r.Body = http.MaxBytesReader(w, r.Body, maxCaptureRequestSize)
	if err := r.ParseMultipartForm(maxCaptureMemory); err != nil {
		respondWithErr(w, http.StatusBadRequest, CodeInvalidRequest, "failed to parse multipart form", err)
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Warn("failed to remove multipart temp files", "error", err)
		}
	}()

	sessionId, identity, ok := resolveSession(state, w, r.FormValue(models.CapturePartSessionToken))
	if !ok {
		return
	}

	bundle, err := readFormFile(r.MultipartForm, models.CapturePartBundle)
	if err != nil || len(bundle) == 0 {
		respondWithErr(w, http.StatusBadRequest, CodeMissingBundle, "capture bundle is missing or empty", err)
		return
	}
	photo, err := readFormFile(r.MultipartForm, models.CapturePartImage)
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		respondWithErr(w, http.StatusBadRequest, CodeInvalidRequest, "failed to read captured image", err)
		return
	}

	attempt, err := capture.Start(r.Context(), state.verifier, identity, state.captureOptions)
	if errors.Is(err, capture.ErrLicense) {
		respondWithErr(w, http.StatusServiceUnavailable, CodeLicenseInvalid, capture.ErrLicense.Error(), err)
		return
	}
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to start capture attempt", err)
		return
	}
	if !state.attempts.claim(sessionId, attempt) {
		attempt.Cancel()
		respondWithErr(w, http.StatusConflict, CodeSessionInUse, "a capture is already running for this session", nil)
		return
	}
	defer state.attempts.release(sessionId)

	// a cancel may have removed the session before the attempt was registered
	if _, err := state.sessionStorage.RetrieveSession(sessionId); err != nil {
		slog.Info("Session removed before the capture started", "session_id", sessionId, "error", err)
		attempt.Cancel()
		if err := writeJSON(w, http.StatusOK, toLivenessResultResponse(attempt.Result())); err != nil {
			respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		}
		return
	}

	slog.Debug("Running capture attempt", "session_id", sessionId, "attempt_id", attempt.ID())
	if len(photo) > 0 {
		attempt.ReportPhoto(photo)
	}
	attempt.ReportBundle(bundle)
	<-attempt.Done()
	result := attempt.Result()

	// Sessions are single use, whatever the outcome
	removeSession(state.sessionStorage, sessionId)

	if err := writeJSON(w, http.StatusOK, toLivenessResultResponse(result)); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}
	slog.Info("Capture attempt answered", "session_id", sessionId, "attempt_id", attempt.ID(), "code", result.Code)
}

func handleCancelLiveness(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received request to cancel a liveness check")

	var request models.CancelLivenessRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithErr(w, http.StatusBadRequest, CodeInvalidRequest, ERR_DECODE, err)
		return
	}

	sessionId, err := state.tokenIssuer.ParseSessionToken(request.SessionToken)
	if err != nil {
		respondWithErr(w, http.StatusUnauthorized, CodeInvalidSession, ERR_SESSION_TOKEN, err)
		return
	}

	// removing first means a capture registering afterwards finds no session
	removeErr := state.sessionStorage.RemoveSession(sessionId)
	canceledRunning := state.attempts.cancel(sessionId)
	if removeErr != nil && !canceledRunning {
		respondWithErr(w, http.StatusBadRequest, CodeInvalidSession, ERR_SESSION_REMOVAL, removeErr)
		return
	}

	response := models.LivenessResultResponse{
		Code:    capture.CodeCanceled,
		Message: capture.MsgCanceled,
	}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}
	slog.Info("Liveness check canceled", "session_id", sessionId, "attempt_running", canceledRunning)
}

// resolveSession verifies the session token and loads the identity it points at
func resolveSession(state *ServerState, w http.ResponseWriter, token string) (string, capture.Identity, bool) {
	sessionId, err := state.tokenIssuer.ParseSessionToken(token)
	if err != nil {
		respondWithErr(w, http.StatusUnauthorized, CodeInvalidSession, ERR_SESSION_TOKEN, err)
		return "", capture.Identity{}, false
	}

	identity, err := state.sessionStorage.RetrieveSession(sessionId)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, CodeInvalidSession, ERR_SESSION_RETRIEVAL, err)
		return "", capture.Identity{}, false
	}
	return sessionId, identity, true
}

func removeSession(storage SessionStorage, sessionId string) {
	slog.Debug("Removing session from storage", "session_id", sessionId)
	if err := storage.RemoveSession(sessionId); err != nil {
		// a concurrent cancel may have removed it already
		slog.Warn(ERR_SESSION_REMOVAL, "session_id", sessionId, "error", err)
	}
}

func toLivenessResultResponse(result capture.Result) models.LivenessResultResponse {
	response := models.LivenessResultResponse{
		Code:    result.Code,
		Message: result.Message,
		Live:    result.Status == capture.StatusSuccess,
	}
	if result.Outcome != nil {
		probability := result.Outcome.Probability
		percent := result.Outcome.Percent
		response.Probability = &probability
		response.ProbabilityPercent = &percent
	}
	return response
}

func readFormFile(form *multipart.Form, name string) ([]byte, error) {
	headers := form.File[name]
	if len(headers) == 0 {
		return nil, http.ErrMissingFile
	}

	file, err := headers[0].Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close multipart file", "part", name, "error", err)
		}
	}()
	return io.ReadAll(file)
}

// GenerateSessionId returns 16 random bytes hex encoded, empty when randomness fails
func GenerateSessionId() string {
	sessionId, err := GenerateNonce(16)
	if err != nil {
		return ""
	}
	slog.Debug("Session ID generated successfully", "session_id", sessionId)
	return sessionId
}

// GenerateNonce Generates a random nonce
func GenerateNonce(i int) (string, error) {
	nonce := make([]byte, i)
	if _, err := rand.Read(nonce); err != nil {
		slog.Error("failed to generate nonce", "error", err)
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	hexString := hex.EncodeToString(nonce)
	slog.Debug("Nonce generated successfully", "length", i)
	return hexString, nil
}

func respondWithErr(w http.ResponseWriter, status int, code string, message string, e error) {
	slog.Error(message, "error", e, "status_code", status, "code", code)
	if err := writeJSON(w, status, models.ErrorResponse{Code: code, Message: message}); err != nil {
		slog.Error("failed to write error response", "error", err)
	}
}

// helpers ------------

func closeRequestBody(r *http.Request) {
	if err := r.Body.Close(); err != nil {
		slog.Error("failed to close request body", "error", err)
	}
}

func requirePOST(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		slog.Debug("Non-POST request rejected", "method", r.Method, "path", r.URL.Path)
		respondWithErr(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed", nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	slog.Debug("Writing JSON response", "status_code", status)
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal JSON payload", "error", err)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(payload)
	if err != nil {
		slog.Error("failed to write body to http response", "error", err)
	} else {
		slog.Debug("JSON response written successfully", "status_code", status, "payload_size", len(payload))
	}
	return nil
}
