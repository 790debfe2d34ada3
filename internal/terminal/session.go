package terminal

import (
	"sync"
	"time"
)

// Idle sessions are reaped so a peer that vanishes without a close handshake
// cannot pin a remote shell forever.
const (
	idleTimeout   = 30 * time.Minute
	sweepInterval = time.Minute
)

// tracked pairs a live Session with its last-activity timestamp.
type tracked struct {
	sess     Session
	lastSeen time.Time
}

var (
	mu       sync.Mutex
	sessions = map[string]*tracked{}
	sweeping bool
)

// Register starts tracking sess under id. The first registration launches
// the background sweeper, which closes any session idle past idleTimeout.
func Register(id string, sess Session) {
	mu.Lock()
	sessions[id] = &tracked{sess: sess, lastSeen: time.Now()}
	if !sweeping {
		sweeping = true
		go func() {
			ticker := time.NewTicker(sweepInterval)
			defer ticker.Stop()
			for range ticker.C {
				reapIdle()
			}
		}()
	}
	mu.Unlock()
}

// Touch records activity on id, deferring its idle reap. Called for every
// message arriving on the bridged WebSocket.
func Touch(id string) {
	mu.Lock()
	if t, ok := sessions[id]; ok {
		t.lastSeen = time.Now()
	}
	mu.Unlock()
}

// Unregister stops tracking id. The Session itself stays open; whoever
// registered it closes it.
func Unregister(id string) {
	mu.Lock()
	delete(sessions, id)
	mu.Unlock()
}

// reapIdle closes and drops every session idle past the timeout. Closes run
// outside the lock: an SSH-backed Close blocks on network teardown.
func reapIdle() {
	var expired []Session
	mu.Lock()
	for id, t := range sessions {
		if time.Since(t.lastSeen) >= idleTimeout {
			delete(sessions, id)
			expired = append(expired, t.sess)
		}
	}
	mu.Unlock()
	for _, sess := range expired {
		_ = sess.Close()
	}
}
