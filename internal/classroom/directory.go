// Package classroom maintains the in-memory directory of live classroom
// codes: the 6-character [A-Z0-9] codes teachers share with students, each
// bound to one session. Entries expire a configurable duration after their
// last activity and are evicted by a background sweep.
package classroom

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"
)

const (
	codeLength   = 6
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// codePattern validates the classroom code shape.
var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// ValidFormat reports whether code has the 6-character [A-Z0-9] shape.
func ValidFormat(code string) bool {
	return codePattern.MatchString(code)
}

// Entry is one live classroom-code binding.
type Entry struct {
	Code             string
	SessionID        string
	CreatedAt        time.Time
	LastActivity     time.Time
	TeacherConnected bool
	ExpiresAt        time.Time
}

// Directory is the thread-safe code → session map. No two live codes map to
// the same session.
type Directory struct {
	mu     sync.Mutex
	byCode map[string]*Entry
	expiry time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// Option is a functional option for configuring a Directory.
type Option func(*Directory)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(d *Directory) { d.logger = l }
}

// withNow overrides the clock. Tests only.
func withNow(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// New creates a Directory whose entries expire the given duration after
// their last activity.
func New(expiry time.Duration, opts ...Option) *Directory {
	d := &Directory{
		byCode: make(map[string]*Entry),
		expiry: expiry,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// CreateOrReuse returns the live code bound to sessionID, minting a fresh one
// if none exists. Reuse refreshes the entry's activity and marks the teacher
// connected.
func (d *Directory) CreateOrReuse(sessionID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()

	for _, e := range d.byCode {
		if e.SessionID == sessionID && now.Before(e.ExpiresAt) {
			e.LastActivity = now
			e.TeacherConnected = true
			e.ExpiresAt = now.Add(d.expiry)
			return e.Code, nil
		}
	}

	code, err := d.generateCodeLocked()
	if err != nil {
		return "", err
	}
	d.byCode[code] = &Entry{
		Code:             code,
		SessionID:        sessionID,
		CreatedAt:        now,
		LastActivity:     now,
		TeacherConnected: true,
		ExpiresAt:        now.Add(d.expiry),
	}
	d.logger.Info("classroom code created", "code", code, "session_id", sessionID)
	return code, nil
}

// IsValid reports whether code is well-formed, known, and unexpired. A
// successful validation refreshes the entry's activity; an expired entry is
// evicted on the spot.
func (d *Directory) IsValid(code string) bool {
	if !ValidFormat(code) {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.byCode[code]
	if !ok {
		return false
	}
	now := d.now()
	if now.After(e.ExpiresAt) {
		delete(d.byCode, code)
		d.logger.Info("classroom code expired on validation", "code", code, "session_id", e.SessionID)
		return false
	}
	e.LastActivity = now
	e.ExpiresAt = now.Add(d.expiry)
	return true
}

// GetByCode returns the entry for code, or false when the code is unknown or
// expired. It does not refresh activity.
func (d *Directory) GetByCode(code string) (Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.byCode[code]
	if !ok || d.now().After(e.ExpiresAt) {
		return Entry{}, false
	}
	return *e, true
}

// GetCodeBySession returns the live code bound to sessionID, or false.
func (d *Directory) GetCodeBySession(sessionID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for _, e := range d.byCode {
		if e.SessionID == sessionID && now.Before(e.ExpiresAt) {
			return e.Code, true
		}
	}
	return "", false
}

// Restore re-seats a pre-existing code for a reconnecting teacher's session.
// Idempotent: restoring a code already bound to sessionID only refreshes it.
// Restoring a code bound to a different session rebinds it and removes any
// other code held by sessionID, preserving the one-code-per-session rule.
func (d *Directory) Restore(code, sessionID string) error {
	if !ValidFormat(code) {
		return fmt.Errorf("classroom: restore: malformed code %q", code)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()

	for c, e := range d.byCode {
		if e.SessionID == sessionID && c != code {
			delete(d.byCode, c)
		}
	}

	e, ok := d.byCode[code]
	if !ok {
		e = &Entry{Code: code, SessionID: sessionID, CreatedAt: now}
		d.byCode[code] = e
	}
	e.SessionID = sessionID
	e.LastActivity = now
	e.TeacherConnected = true
	e.ExpiresAt = now.Add(d.expiry)
	d.logger.Info("classroom code restored", "code", code, "session_id", sessionID)
	return nil
}

// SetTeacherConnected flips the teacher-presence flag on the entry bound to
// sessionID, if any.
func (d *Directory) SetTeacherConnected(sessionID string, connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.byCode {
		if e.SessionID == sessionID {
			e.TeacherConnected = connected
		}
	}
}

// Remove evicts the entry bound to sessionID, if any.
func (d *Directory) Remove(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for c, e := range d.byCode {
		if e.SessionID == sessionID {
			delete(d.byCode, c)
		}
	}
}

// Len returns the number of live entries.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byCode)
}

// Sweep evicts every expired entry and returns the number removed.
func (d *Directory) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	removed := 0
	for c, e := range d.byCode {
		if now.After(e.ExpiresAt) {
			delete(d.byCode, c)
			removed++
		}
	}
	if removed > 0 {
		d.logger.Info("classroom code sweep", "removed", removed, "remaining", len(d.byCode))
	}
	return removed
}

// Run sweeps expired entries every interval until ctx is cancelled.
func (d *Directory) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep()
		}
	}
}

// generateCodeLocked mints a fresh unique code by rejection sampling.
func (d *Directory) generateCodeLocked() (string, error) {
	for attempt := 0; attempt < 100; attempt++ {
		buf := make([]byte, codeLength)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("classroom: generate code: %w", err)
		}
		for i, b := range buf {
			buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
		}
		code := string(buf)
		if _, taken := d.byCode[code]; !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("classroom: generate code: exhausted attempts")
}
