package models

type StartLivenessRequest struct {
	AuthToken      string `json:"auth_token"`
	TemplateId     string `json:"template_id"`
	VerificationId string `json:"verification_id"`
}

type CancelLivenessRequest struct {
	SessionToken string `json:"session_token"`
}

// CaptureLivenessRequest is sent as multipart/form-data, these are its part names
const (
	CapturePartSessionToken = "session_token"
	CapturePartBundle       = "bundle"
	CapturePartImage        = "image"
)
