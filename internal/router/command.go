package router

import (
	"log"

	"github.com/technosupport/arcs-relay/internal/audit"
	"github.com/technosupport/arcs-relay/internal/protocol"
	"github.com/technosupport/arcs-relay/internal/ratelimit"
)

// sensitiveFields are masked before any command reaches a log.
var sensitiveFields = []string{"jwt_token", "secret", "password"}

// CommandRouter validates, rate-limits, and sanitizes control messages
// on their way between controller and device. The limiter is an injected
// dependency so tests construct a fresh one per case.
type CommandRouter struct {
	limiter *ratelimit.Limiter
	audit   *audit.Logger
}

func NewCommandRouter(limiter *ratelimit.Limiter, auditLog *audit.Logger) *CommandRouter {
	return &CommandRouter{limiter: limiter, audit: auditLog}
}

// RouteToDevice admits a controller command toward the device.
// Returns (payload, true) to forward, (errorPayload, false) to bounce
// back to the sender, and (nil, false) to drop silently.
func (r *CommandRouter) RouteToDevice(sessionID string, cmd protocol.Message) ([]byte, bool) {
	if !cmd.Validate() {
		log.Printf("[ROUTER] Invalid command for session %s", sessionID)
		return nil, false
	}

	if !r.checkRateLimit(sessionID, cmd) {
		log.Printf("[ROUTER] Rate limit exceeded for session %s", sessionID)
		if r.audit != nil {
			r.audit.Log(audit.RateLimitExceeded, audit.LevelWarning, sessionID,
				"Rate limit exceeded", "command="+string(cmd.Type()))
		}
		return protocol.MakeError(protocol.CodeRateLimit, "Too many requests, please slow down"), false
	}

	if r.audit != nil {
		r.audit.LogCommand(sessionID, string(cmd.Type()))
	}
	log.Printf("[ROUTER] To device [%s]: %s", sessionID, Sanitize(cmd).Encode())

	// Forward the original bytes, not the sanitized copy.
	return cmd.Encode(), true
}

// RouteToController forwards a device response toward controllers.
// No rate limiting on this direction.
func (r *CommandRouter) RouteToController(sessionID string, resp protocol.Message) []byte {
	log.Printf("[ROUTER] To controller [%s]: %s", sessionID, Sanitize(resp).Encode())
	return resp.Encode()
}

// Sanitize returns a copy with credential-bearing fields masked.
func Sanitize(cmd protocol.Message) protocol.Message {
	sanitized := make(protocol.Message, len(cmd))
	for k, v := range cmd {
		sanitized[k] = v
	}
	for _, field := range sensitiveFields {
		if _, ok := sanitized[field]; ok {
			sanitized[field] = "***"
		}
	}
	return sanitized
}

// checkRateLimit maps a command onto its limiter category. Key presses
// and unrecognized commands are uncounted.
func (r *CommandRouter) checkRateLimit(sessionID string, cmd protocol.Message) bool {
	if r.limiter == nil {
		return true
	}

	switch cmd.Type() {
	case protocol.TypeTouch:
		return r.limiter.Allow(ratelimit.CategoryTouch, sessionID)
	case protocol.TypeKey:
		if cmd.String("action") == "text" {
			return r.limiter.Allow(ratelimit.CategoryText, sessionID)
		}
		return true
	case protocol.TypeMacro:
		return r.limiter.Allow(ratelimit.CategoryMacro, sessionID)
	case protocol.TypeAI:
		switch cmd.String("action") {
		case "ocr", "detect_ui":
			return r.limiter.Allow(ratelimit.CategoryOCR, sessionID)
		}
		return true
	}
	return true
}
