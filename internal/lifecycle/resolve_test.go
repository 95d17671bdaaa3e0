package lifecycle

import (
	"testing"
	"time"

	"github.com/babelclass/babelclass/internal/store"
)

var resolveNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func active(id, teacherID, language string, lastActivity time.Time) store.Session {
	return store.Session{
		SessionID:       id,
		TeacherID:       teacherID,
		TeacherLanguage: language,
		IsActive:        true,
		LastActivityAt:  lastActivity,
	}
}

func ended(id, teacherID string, endTime time.Time) store.Session {
	return store.Session{
		SessionID: id,
		TeacherID: teacherID,
		IsActive:  false,
		EndTime:   &endTime,
	}
}

func TestResolveSession(t *testing.T) {
	grace := 5 * time.Minute

	tests := []struct {
		name       string
		teacherID  string
		language   string
		candidates []store.Session
		wantAction Action
		wantID     string
		wantEnded  []string
	}{
		{
			name:       "no candidates creates",
			teacherID:  "t1",
			wantAction: ActionCreate,
		},
		{
			name:      "active session by teacher id reused",
			teacherID: "t1",
			candidates: []store.Session{
				active("s1", "t1", "en-US", resolveNow.Add(-time.Minute)),
			},
			wantAction: ActionReuse,
			wantID:     "s1",
		},
		{
			name:      "newest active wins, others ended",
			teacherID: "t1",
			candidates: []store.Session{
				active("old", "t1", "en-US", resolveNow.Add(-time.Hour)),
				active("new", "t1", "en-US", resolveNow.Add(-time.Minute)),
			},
			wantAction: ActionReuse,
			wantID:     "new",
			wantEnded:  []string{"old"},
		},
		{
			name:      "recently ended session reactivated",
			teacherID: "t1",
			candidates: []store.Session{
				ended("s1", "t1", resolveNow.Add(-5*time.Minute)),
			},
			wantAction: ActionReactivate,
			wantID:     "s1",
		},
		{
			name:      "session ended too long ago creates",
			teacherID: "t1",
			candidates: []store.Session{
				ended("s1", "t1", resolveNow.Add(-15*time.Minute)),
			},
			wantAction: ActionCreate,
		},
		{
			name:      "other teacher's session ignored",
			teacherID: "t1",
			candidates: []store.Session{
				active("s1", "t2", "en-US", resolveNow),
			},
			wantAction: ActionCreate,
		},
		{
			name:     "anonymous teacher matched by language in grace",
			language: "en-US",
			candidates: []store.Session{
				active("s1", "t9", "en-US", resolveNow.Add(-2*time.Minute)),
			},
			wantAction: ActionReuse,
			wantID:     "s1",
		},
		{
			name:     "anonymous teacher language match too old",
			language: "en-US",
			candidates: []store.Session{
				active("s1", "t9", "en-US", resolveNow.Add(-20*time.Minute)),
			},
			wantAction: ActionCreate,
			wantEnded:  []string{"s1"},
		},
		{
			name:     "anonymous teacher different language creates",
			language: "fr",
			candidates: []store.Session{
				active("s1", "t9", "en-US", resolveNow),
			},
			wantAction: ActionCreate,
		},
		{
			name:       "no teacher id and no language creates",
			wantAction: ActionCreate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := resolveSession(resolveInput{
				TeacherID:         tt.teacherID,
				Language:          tt.language,
				Now:               resolveNow,
				ReconnectionGrace: grace,
				Candidates:        tt.candidates,
			})
			if d.Action != tt.wantAction {
				t.Errorf("action = %q, want %q", d.Action, tt.wantAction)
			}
			if d.SessionID != tt.wantID {
				t.Errorf("sessionID = %q, want %q", d.SessionID, tt.wantID)
			}
			if len(d.EndSessions) != len(tt.wantEnded) {
				t.Fatalf("endSessions = %v, want %v", d.EndSessions, tt.wantEnded)
			}
			for i, id := range tt.wantEnded {
				if d.EndSessions[i] != id {
					t.Errorf("endSessions[%d] = %q, want %q", i, d.EndSessions[i], id)
				}
			}
		})
	}
}

func TestClassify(t *testing.T) {
	start := resolveNow

	tests := []struct {
		name        string
		sess        store.Session
		transcripts int
		end         time.Time
		want        store.SessionQuality
	}{
		{
			name: "too short",
			sess: store.Session{StartTime: start, StudentsCount: 2, TotalTranslations: 5},
			end:  start.Add(10 * time.Second),
			want: store.QualityTooShort,
		},
		{
			name: "no students",
			sess: store.Session{StartTime: start},
			end:  start.Add(time.Hour),
			want: store.QualityNoStudents,
		},
		{
			name: "students but no activity",
			sess: store.Session{StartTime: start, StudentsCount: 3},
			end:  start.Add(time.Hour),
			want: store.QualityNoActivity,
		},
		{
			name:        "transcripts without translations is real",
			sess:        store.Session{StartTime: start, StudentsCount: 3},
			transcripts: 2,
			end:         start.Add(time.Hour),
			want:        store.QualityReal,
		},
		{
			name: "real session",
			sess: store.Session{StartTime: start, StudentsCount: 3, TotalTranslations: 40},
			end:  start.Add(time.Hour),
			want: store.QualityReal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.sess, tt.transcripts, tt.end); got != tt.want {
				t.Errorf("classify = %q, want %q", got, tt.want)
			}
		})
	}
}
