package gateway

import "sync"

// Registry is the thread-safe set of live connections. Enumerations return
// snapshots; callers may hit sockets that close concurrently and must treat
// send failures as routine.
type Registry struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[*Client]struct{})}
}

// Add registers a connection.
func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c] = struct{}{}
}

// Remove unregisters a connection.
func (r *Registry) Remove(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, c)
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// All returns a snapshot of every live connection.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	return out
}

// bySession returns connections with the given role and session.
func (r *Registry) bySession(sessionID string, role Role) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Client
	for c := range r.clients {
		if c.Role() == role && c.SessionID() == sessionID {
			out = append(out, c)
		}
	}
	return out
}

// StudentsBySession returns every student connection in the session.
func (r *Registry) StudentsBySession(sessionID string) []*Client {
	return r.bySession(sessionID, RoleStudent)
}

// TeachersBySession returns every teacher connection in the session.
func (r *Registry) TeachersBySession(sessionID string) []*Client {
	return r.bySession(sessionID, RoleTeacher)
}

// StudentLanguages returns the distinct, non-empty languages of the
// session's students.
func (r *Registry) StudentLanguages(sessionID string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range r.StudentsBySession(sessionID) {
		lang := c.Language()
		if lang == "" {
			continue
		}
		if _, dup := seen[lang]; dup {
			continue
		}
		seen[lang] = struct{}{}
		out = append(out, lang)
	}
	return out
}

// CountByRole returns the number of live connections with the given role.
func (r *Registry) CountByRole(role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for c := range r.clients {
		if c.Role() == role {
			n++
		}
	}
	return n
}
