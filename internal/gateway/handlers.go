package gateway

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/babelclass/babelclass/internal/relay"
	"github.com/babelclass/babelclass/internal/store"
	"github.com/babelclass/babelclass/pkg/provider/tts"
)

// handleRegister routes a register frame by role. Unknown roles are logged
// and dropped.
func (g *Gateway) handleRegister(ctx context.Context, c *Client, f inboundFrame) {
	switch Role(f.Role) {
	case RoleTeacher:
		g.registerTeacher(ctx, c, f)
	case RoleStudent:
		g.registerStudent(ctx, c, f)
	default:
		g.logger.Warn("register with unknown role", "client_id", c.ID(), "role", f.Role)
	}
}

func (g *Gateway) registerTeacher(ctx context.Context, c *Client, f inboundFrame) {
	res, err := g.lifecycle.RegisterTeacher(ctx, f.TeacherID, f.LanguageCode, c.SessionID())
	if err != nil {
		g.logger.Error("teacher registration failed",
			"client_id", c.ID(), "teacher_id", f.TeacherID, "error", err)
		g.send(ctx, c, errorFrame{Type: typeError, Code: "REGISTER_FAILED", Message: "Could not create session"})
		return
	}

	c.setTeacher(f.TeacherID, f.Name, f.LanguageCode, res.Session.SessionID, res.Code)
	c.MergeSettings(f.Settings, f.TTSServiceType)

	g.send(ctx, c, registerAck{
		Type:   typeRegister,
		Status: "success",
		Data: registerData{
			Role:         f.Role,
			LanguageCode: f.LanguageCode,
			Settings:     c.Settings(),
		},
	})

	expiresAt := ""
	if entry, ok := g.directory.GetByCode(res.Code); ok {
		expiresAt = entry.ExpiresAt.UTC().Format(time.RFC3339)
	}
	g.send(ctx, c, classroomCodeFrame{
		Type:      typeClassroomCode,
		Code:      res.Code,
		SessionID: res.Session.SessionID,
		ExpiresAt: expiresAt,
	})
}

func (g *Gateway) registerStudent(ctx context.Context, c *Client, f inboundFrame) {
	code := strings.ToUpper(strings.TrimSpace(f.ClassroomCode))
	if code == "" {
		code = c.ClassroomCode()
	}

	// Re-home the connection onto the teacher's session before any other
	// side effect runs.
	if code != "" {
		if !g.directory.IsValid(code) {
			g.logger.Info("student rejected: invalid classroom code",
				"client_id", c.ID(), "code", code)
			g.send(ctx, c, errorFrame{Type: typeError, Code: "INVALID_CLASSROOM", Message: "Classroom code is invalid or expired"})
			time.AfterFunc(g.cfg.Gateway.InvalidClassroomMessageDelay, func() {
				_ = c.Close(websocket.StatusPolicyViolation, "invalid classroom code")
			})
			return
		}
		if entry, ok := g.directory.GetByCode(code); ok {
			c.SetSessionID(entry.SessionID)
			c.SetClassroomCode(code)
		}
	}

	c.setStudent(f.Name, f.LanguageCode)
	c.MergeSettings(f.Settings, f.TTSServiceType)

	if sessionID := c.SessionID(); sessionID != "" {
		g.seatStudent(ctx, c, sessionID, f.LanguageCode)
	}

	g.send(ctx, c, registerAck{
		Type:   typeRegister,
		Status: "success",
		Data: registerData{
			Role:         f.Role,
			LanguageCode: f.LanguageCode,
			Settings:     c.Settings(),
		},
	})

	g.announceStudent(ctx, c)
}

// seatStudent applies the session-row side effects of a student joining:
// start-time re-anchoring on the first-ever student, one counted increment
// per connection, the student language, and the activity timestamp. The
// re-anchor must run before the count increment; the store only applies it
// while the count is still zero.
func (g *Gateway) seatStudent(ctx context.Context, c *Client, sessionID, language string) {
	now := g.now()

	if err := g.storage.ReanchorSessionStart(ctx, sessionID, now); err != nil {
		g.logger.Warn("failed to re-anchor session start",
			"session_id", sessionID, "error", err)
	}
	if !c.StudentCounted() {
		if _, err := g.storage.AdjustStudentsCount(ctx, sessionID, 1); err != nil {
			g.logger.Error("failed to increment student count",
				"session_id", sessionID, "error", err)
		} else {
			c.SetStudentCounted(true)
		}
	}
	if lang := strings.TrimSpace(language); lang != "" {
		if err := g.storage.SetStudentLanguage(ctx, sessionID, lang); err != nil {
			g.logger.Warn("failed to set student language",
				"session_id", sessionID, "error", err)
		}
	}
	if err := g.storage.TouchSession(ctx, sessionID, now); err != nil {
		g.logger.Warn("failed to touch session", "session_id", sessionID, "error", err)
	}
	g.lifecycle.StudentJoined(sessionID)
}

// announceStudent fans a student_joined frame to every teacher socket in the
// student's session. Fire-and-forget per teacher.
func (g *Gateway) announceStudent(ctx context.Context, c *Client) {
	sessionID := c.SessionID()
	if sessionID == "" {
		return
	}
	frame := studentJoinedFrame{
		Type: typeStudentJoined,
		Payload: studentJoinedPayload{
			StudentID:    c.ID(),
			Name:         c.Name(),
			LanguageCode: c.Language(),
		},
	}
	for _, t := range g.registry.TeachersBySession(sessionID) {
		if err := t.Send(ctx, frame); err != nil {
			g.logger.Debug("failed to notify teacher of student join",
				"client_id", t.ID(), "error", err)
		}
	}
}

func (g *Gateway) handlePing(ctx context.Context, c *Client, f inboundFrame) {
	g.send(ctx, c, pongFrame{
		Type:              typePong,
		Timestamp:         g.now().UnixMilli(),
		OriginalTimestamp: f.Timestamp,
	})
}

func (g *Gateway) handleSettings(ctx context.Context, c *Client, f inboundFrame) {
	c.MergeSettings(f.Settings, f.TTSServiceType)
	g.send(ctx, c, settingsAck{Type: typeSettings, Status: "success", Settings: c.Settings()})
}

// handleTranscription persists the utterance and delegates the fan-out to
// the orchestrator. Blocks until every delivery resolves; the in-flight
// guard keeps the sweep from ending the session mid-delivery.
func (g *Gateway) handleTranscription(ctx context.Context, c *Client, f inboundFrame) {
	if c.Role() != RoleTeacher {
		return
	}
	text := strings.TrimSpace(f.Text)
	if text == "" {
		return
	}

	start := g.now()
	sessionID := c.SessionID()
	language := c.Language()
	if language == "" {
		language = f.LanguageCode
	}

	if err := g.storage.AddTranscript(ctx, store.Transcript{
		SessionID: sessionID,
		Language:  language,
		Text:      text,
		Timestamp: start,
	}); err != nil {
		g.logger.Error("failed to persist transcript", "session_id", sessionID, "error", err)
	}

	students := g.registry.StudentsBySession(sessionID)
	if len(students) == 0 {
		return
	}

	targets := make([]relay.Student, 0, len(students))
	for _, s := range students {
		targets = append(targets, relay.Student{
			ID:              s.ID(),
			Name:            s.Name(),
			Language:        s.Language(),
			UseClientSpeech: s.UseClientSpeech(),
			TTSServiceType:  s.TTSServiceType(),
			Voice:           s.Voice(),
			Conn:            s,
		})
	}

	done := g.lifecycle.TrackDelivery(sessionID)
	defer done()
	g.relay.Relay(ctx, relay.Job{
		SessionID:      sessionID,
		Text:           text,
		SourceLanguage: language,
		StartTime:      start,
		Students:       targets,
	})
}

func (g *Gateway) handleTTSRequest(ctx context.Context, c *Client, f inboundFrame) {
	resp := ttsResponseFrame{
		Type:           typeTTSResponse,
		Text:           f.Text,
		LanguageCode:   f.LanguageCode,
		TTSServiceType: f.TTSServiceType,
		Timestamp:      g.now().UnixMilli(),
	}
	if resp.TTSServiceType == "" {
		resp.TTSServiceType = c.TTSServiceType()
	}

	if strings.TrimSpace(f.Text) == "" || strings.TrimSpace(f.LanguageCode) == "" {
		resp.Status = "error"
		resp.Error = "text and languageCode are required"
		g.send(ctx, c, resp)
		return
	}

	// Browser synthesis never touches a server backend: answer with the
	// marker payload the client speaks itself.
	if resp.TTSServiceType == ttsServiceBrowser {
		resp.Status = "success"
		resp.UseClientSpeech = true
		resp.SpeechParams = &tts.SpeechParams{
			Type:         "browser-speech",
			Text:         f.Text,
			LanguageCode: f.LanguageCode,
			AutoPlay:     true,
		}
		g.send(ctx, c, resp)
		return
	}

	res, err := g.provider.Synthesize(ctx, tts.Request{
		Text:         f.Text,
		LanguageCode: f.LanguageCode,
		Voice:        f.Voice,
	})
	if err != nil {
		g.logger.Warn("tts request failed",
			"client_id", c.ID(), "language", f.LanguageCode, "error", err)
		resp.Status = "error"
		resp.Error = "synthesis failed"
		g.send(ctx, c, resp)
		return
	}

	resp.Status = "success"
	if res.SpeechParams != nil {
		resp.SpeechParams = res.SpeechParams
		resp.UseClientSpeech = true
	} else {
		resp.AudioData = base64.StdEncoding.EncodeToString(res.Audio)
	}
	g.send(ctx, c, resp)
}

// handleAudio acknowledges inbound audio without processing it; client-side
// transcription is the supported path.
func (g *Gateway) handleAudio(c *Client, f inboundFrame) {
	if c.Role() != RoleTeacher {
		return
	}
	if len(f.Data) < g.cfg.Gateway.MinAudioDataLength {
		g.logger.Debug("dropping undersized audio frame",
			"client_id", c.ID(), "size", len(f.Data))
		return
	}
	g.logger.Debug("audio frame ignored", "client_id", c.ID(), "size", len(f.Data))
}

// send writes one frame, logging failures. Delivery guarantees for
// translation frames live in the orchestrator; everything else is best
// effort.
func (g *Gateway) send(ctx context.Context, c *Client, v any) {
	if err := c.Send(ctx, v); err != nil {
		g.logger.Debug("failed to send frame", "client_id", c.ID(), "error", err)
	}
}
