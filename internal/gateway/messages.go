package gateway

import "github.com/babelclass/babelclass/pkg/provider/tts"

// ttsServiceBrowser selects client-side synthesis over any server backend.
const ttsServiceBrowser = "browser"

// Frame type names shared between client and server.
const (
	typeRegister       = "register"
	typePing           = "ping"
	typePong           = "pong"
	typeSettings       = "settings"
	typeTranscription  = "transcription"
	typeAudio          = "audio"
	typeTTSRequest     = "tts_request"
	typeTTSResponse    = "tts_response"
	typeConnection     = "connection"
	typeClassroomCode  = "classroom_code"
	typeStudentJoined  = "student_joined"
	typeSessionExpired = "session_expired"
	typeError          = "error"
)

// inboundFrame is the union of every client-to-server message. The dispatcher
// parses the whole envelope once and routes on Type; handlers read only the
// fields their type defines.
type inboundFrame struct {
	Type string `json:"type"`

	// register
	Role          string `json:"role,omitempty"`
	LanguageCode  string `json:"languageCode,omitempty"`
	Name          string `json:"name,omitempty"`
	TeacherID     string `json:"teacherId,omitempty"`
	ClassroomCode string `json:"classroomCode,omitempty"`

	// register, settings
	Settings       map[string]any `json:"settings,omitempty"`
	TTSServiceType string         `json:"ttsServiceType,omitempty"`

	// transcription, tts_request
	Text  string `json:"text,omitempty"`
	Voice string `json:"voice,omitempty"`

	// audio
	Data string `json:"data,omitempty"`

	// ping
	Timestamp int64 `json:"timestamp,omitempty"`
}

// connectionFrame greets a freshly accepted socket.
type connectionFrame struct {
	Type     string `json:"type"`
	Status   string `json:"status"`
	ClientID string `json:"clientId"`
}

// registerData echoes the registered identity back to the client.
type registerData struct {
	Role         string         `json:"role"`
	LanguageCode string         `json:"languageCode"`
	Settings     map[string]any `json:"settings,omitempty"`
}

// registerAck acknowledges a successful register.
type registerAck struct {
	Type   string       `json:"type"`
	Status string       `json:"status"`
	Data   registerData `json:"data"`
}

// classroomCodeFrame tells the teacher which code to share with students.
type classroomCodeFrame struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	SessionID string `json:"sessionId"`
	ExpiresAt string `json:"expiresAt"`
}

type studentJoinedPayload struct {
	StudentID    string `json:"studentId"`
	Name         string `json:"name"`
	LanguageCode string `json:"languageCode"`
}

// studentJoinedFrame is fanned out to every teacher socket in the session.
type studentJoinedFrame struct {
	Type    string               `json:"type"`
	Payload studentJoinedPayload `json:"payload"`
}

// pongFrame answers a client ping.
type pongFrame struct {
	Type              string `json:"type"`
	Timestamp         int64  `json:"timestamp"`
	OriginalTimestamp int64  `json:"originalTimestamp"`
}

// pingFrame is the application-level heartbeat sent by the health monitor.
type pingFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// settingsAck echoes the merged client settings.
type settingsAck struct {
	Type     string         `json:"type"`
	Status   string         `json:"status"`
	Settings map[string]any `json:"settings"`
}

// ttsResponseFrame answers a tts_request. Exactly one of AudioData and
// SpeechParams is populated on success.
type ttsResponseFrame struct {
	Type            string            `json:"type"`
	Status          string            `json:"status"`
	Text            string            `json:"text"`
	LanguageCode    string            `json:"languageCode"`
	TTSServiceType  string            `json:"ttsServiceType,omitempty"`
	Timestamp       int64             `json:"timestamp"`
	AudioData       string            `json:"audioData,omitempty"`
	SpeechParams    *tts.SpeechParams `json:"speechParams,omitempty"`
	UseClientSpeech bool              `json:"useClientSpeech,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// sessionExpiredFrame precedes the 1008 close of a socket whose session is
// gone.
type sessionExpiredFrame struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// errorFrame is a typed client-protocol error.
type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
