package audit

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType is the closed set of security-relevant events.
type EventType string

const (
	AuthSuccess        EventType = "AUTH_SUCCESS"
	AuthFailure        EventType = "AUTH_FAILURE"
	SessionStart       EventType = "SESSION_START"
	SessionEnd         EventType = "SESSION_END"
	CommandReceived    EventType = "COMMAND_RECEIVED"
	PermissionDenied   EventType = "PERMISSION_DENIED"
	RateLimitExceeded  EventType = "RATE_LIMIT_EXCEEDED"
	EncryptionError    EventType = "ENCRYPTION_ERROR"
	SuspiciousActivity EventType = "SUSPICIOUS_ACTIVITY"
)

type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Record is one audit entry, also the payload for publishers.
type Record struct {
	EventID   uuid.UUID `json:"event_id"`
	Event     EventType `json:"event"`
	Level     Level     `json:"level"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher forwards audit records to an external sink. Implementations
// must not block the caller for long; failures are the sink's problem.
type Publisher interface {
	Publish(rec Record)
}

// Logger appends pipe-delimited records to a file. Writes are serialized;
// ERROR and CRITICAL records are echoed to standard error.
type Logger struct {
	mu        sync.Mutex
	file      *os.File
	publisher Publisher
	now       func() time.Time
}

// NewLogger opens (or creates) the audit log in append mode.
func NewLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Logger{file: f, now: time.Now}, nil
}

// SetPublisher attaches an external sink for every record.
func (l *Logger) SetPublisher(p Publisher) {
	l.mu.Lock()
	l.publisher = p
	l.mu.Unlock()
}

// Log writes one record.
func (l *Logger) Log(event EventType, level Level, userID, message, details string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now()
	line := fmt.Sprintf("%s | %s | %s | user=%s | %s",
		ts.Format("2006-01-02 15:04:05"), level, event, userID, message)
	if details != "" {
		line += " | " + details
	}

	if _, err := l.file.WriteString(line + "\n"); err != nil {
		// The audit trail is the last thing allowed to fail silently.
		fmt.Fprintf(os.Stderr, "AUDIT WRITE FAILED: %v: %s\n", err, line)
	}

	if level == LevelError || level == LevelCritical {
		fmt.Fprintln(os.Stderr, line)
	}

	if l.publisher != nil {
		l.publisher.Publish(Record{
			EventID:   uuid.New(),
			Event:     event,
			Level:     level,
			UserID:    userID,
			Message:   message,
			Details:   details,
			Timestamp: ts,
		})
	}
}

// LogAuth records an authentication attempt.
func (l *Logger) LogAuth(success bool, deviceID, ip string) {
	if success {
		l.Log(AuthSuccess, LevelInfo, deviceID, "Authentication successful", "ip="+ip)
	} else {
		l.Log(AuthFailure, LevelWarning, deviceID, "Authentication failed", "ip="+ip)
	}
}

// LogSession records a session boundary.
func (l *Logger) LogSession(sessionID, deviceID string, start bool) {
	if start {
		l.Log(SessionStart, LevelInfo, deviceID, "Session started", "session_id="+sessionID)
	} else {
		l.Log(SessionEnd, LevelInfo, deviceID, "Session ended", "session_id="+sessionID)
	}
}

// LogCommand records a routed command by type only; payloads are
// sanitized upstream and never land here verbatim.
func (l *Logger) LogCommand(sessionID, commandType string) {
	l.Log(CommandReceived, LevelInfo, sessionID, "Command: "+commandType, "")
}

// Flush forces a durable write.
func (l *Logger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Sync()
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Sync(); err != nil {
		return err
	}
	return l.file.Close()
}
