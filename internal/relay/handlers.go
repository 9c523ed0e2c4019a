package relay

import (
	"context"
	"log"
	"time"

	"github.com/technosupport/arcs-relay/internal/audit"
	"github.com/technosupport/arcs-relay/internal/protocol"
	"github.com/technosupport/arcs-relay/internal/ratelimit"
)

func invalidMessagePayload() []byte {
	return protocol.MakeError(protocol.CodeInvalidMessage, "Malformed message")
}

// handleText dispatches one inbound control message.
func (s *Server) handleText(c *connection, payload []byte) {
	msg, err := protocol.Parse(payload)
	if err != nil {
		c.enqueue(invalidMessagePayload())
		return
	}

	switch msg.Type() {
	case protocol.TypeAuthRequest:
		s.handleAuthRequest(c, msg)
	case protocol.TypeJoinSession:
		s.handleJoinSession(c, msg)
	case protocol.TypePing:
		c.enqueue(protocol.MakePong())
	default:
		s.handleCommand(c, msg)
	}
}

// handleBinary routes a video frame from a device into the session's
// fan-out queues. Binary frames from anyone else are discarded.
func (s *Server) handleBinary(c *connection, payload []byte) {
	authenticated, role, sessionID := c.state()
	if !authenticated || role != roleDevice {
		return
	}

	s.deps.Streams.RouteFrame(sessionID, payload)
	s.deps.Sessions.Touch(sessionID)

	if s.deps.Metrics != nil {
		s.deps.Metrics.FramesRouted.Inc()
		s.deps.Metrics.FrameBytes.Add(float64(len(payload)))
	}
}

// handleAuthRequest runs the device path: rate limit, credential check,
// session creation, token issuance.
func (s *Server) handleAuthRequest(c *connection, msg protocol.Message) {
	if !msg.Validate() {
		c.enqueue(invalidMessagePayload())
		return
	}

	deviceID := msg.String("device_id")
	secret := msg.String("secret")

	if !s.deps.Limiter.Allow(ratelimit.CategoryAuth, deviceID) {
		s.deps.Audit.Log(audit.RateLimitExceeded, audit.LevelWarning, deviceID,
			"Auth rate limit exceeded", "ip="+c.remoteAddr)
		if s.deps.Metrics != nil {
			s.deps.Metrics.RateLimited.WithLabelValues(string(ratelimit.CategoryAuth)).Inc()
		}
		c.enqueue(protocol.MakeError(protocol.CodeRateLimit, "Too many authentication attempts"))
		return
	}

	if !s.deps.Registry.Authenticate(deviceID, secret) {
		s.deps.Audit.LogAuth(false, deviceID, c.remoteAddr)
		if s.deps.Metrics != nil {
			s.deps.Metrics.AuthAttempts.WithLabelValues("failure").Inc()
		}
		c.enqueue(protocol.MakeError(protocol.CodeAuthFailed, "Invalid device credentials"))
		return
	}

	sessionID := s.deps.Sessions.Create(deviceID)

	token, err := s.deps.Tokens.Generate(deviceID, sessionID, []string{"control", "stream"})
	if err != nil {
		log.Printf("[WS] Token generation failed for %s: %v", deviceID, err)
		c.enqueue(protocol.MakeError(protocol.CodeAuthFailed, "Token generation failed"))
		return
	}

	if !c.promote(roleDevice, sessionID, deviceID, nil) {
		// Already authenticated; re-auth on a live connection is not a
		// state we recognize.
		c.enqueue(protocol.MakeError(protocol.CodeInvalidMessage, "Already authenticated"))
		return
	}

	s.deps.Streams.RegisterDevice(sessionID, deviceID)

	expiresAt := time.Now().Add(s.deps.Tokens.Expiry()).UnixMilli()
	c.enqueue(protocol.MakeAuthResponse(true, sessionID, token, expiresAt))

	s.deps.Audit.LogAuth(true, deviceID, c.remoteAddr)
	s.deps.Audit.LogSession(sessionID, deviceID, true)
	if s.deps.Metrics != nil {
		s.deps.Metrics.AuthAttempts.WithLabelValues("success").Inc()
		s.deps.Metrics.SessionsActive.Set(float64(s.deps.Sessions.ActiveCount()))
	}
	log.Printf("[WS] Device %s authenticated, session %s", deviceID, sessionID)
}

// handleJoinSession runs the controller path: token validation, claim
// cross-check, session attach.
func (s *Server) handleJoinSession(c *connection, msg protocol.Message) {
	if !msg.Validate() {
		c.enqueue(invalidMessagePayload())
		return
	}

	sessionID := msg.String("session_id")
	tokenString := msg.String("jwt_token")

	claims, err := s.deps.Tokens.Validate(context.Background(), tokenString)
	if err != nil {
		s.deps.Audit.Log(audit.AuthFailure, audit.LevelWarning, c.id,
			"Controller token rejected", "reason="+err.Error())
		c.enqueue(protocol.MakeError(protocol.CodeInvalidToken, "JWT validation failed"))
		return
	}

	// A valid token for some other session is a forged or replayed join.
	if claims.SessionID != sessionID {
		s.deps.Audit.Log(audit.SuspiciousActivity, audit.LevelWarning, c.id,
			"Token session mismatch on join", "requested="+sessionID)
		c.enqueue(protocol.MakeError(protocol.CodeInvalidToken, "Token not valid for this session"))
		return
	}

	if !s.deps.Sessions.Join(sessionID, c.id) {
		c.enqueue(protocol.MakeError(protocol.CodeSessionNotFound, "Session does not exist"))
		return
	}

	frameSignal := s.deps.Streams.RegisterController(sessionID, c.id)
	if !c.promote(roleController, sessionID, c.id, frameSignal) {
		s.deps.Streams.UnregisterController(sessionID, c.id)
		s.deps.Sessions.Leave(sessionID, c.id)
		c.enqueue(protocol.MakeError(protocol.CodeInvalidMessage, "Already authenticated"))
		return
	}

	info := protocol.DeviceInfo{DeviceID: claims.DeviceID}
	if entry, ok := s.deps.Registry.Get(claims.DeviceID); ok {
		info.Model = entry.Model
	}
	c.enqueue(protocol.MakeJoinResponse(true, info, protocol.DefaultVideoConfig))

	log.Printf("[WS] Controller %s joined session %s", c.id, sessionID)
}

// handleCommand relays any other message between the session's halves.
func (s *Server) handleCommand(c *connection, msg protocol.Message) {
	authenticated, role, sessionID := c.state()
	if !authenticated {
		c.enqueue(protocol.MakeError(protocol.CodeUnauthorized, "Not authenticated"))
		return
	}

	s.deps.Sessions.Touch(sessionID)

	switch role {
	case roleDevice:
		payload := s.deps.Commands.RouteToController(sessionID, msg)
		s.broadcastToControllers(sessionID, payload)
	case roleController:
		payload, forward := s.deps.Commands.RouteToDevice(sessionID, msg)
		if !forward {
			if payload != nil {
				// Rate limit bounce goes back to the sender only.
				if s.deps.Metrics != nil {
					s.deps.Metrics.RateLimited.WithLabelValues(string(categoryOf(msg))).Inc()
				}
				c.enqueue(payload)
			} else {
				c.enqueue(protocol.MakeError(protocol.CodeInvalidMessage, "Command validation failed"))
			}
			return
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.CommandsRouted.WithLabelValues(string(msg.Type())).Inc()
		}
		s.sendToDevice(sessionID, payload)
	}
}

// categoryOf mirrors the command router's mapping for metrics labels.
func categoryOf(msg protocol.Message) ratelimit.Category {
	switch msg.Type() {
	case protocol.TypeTouch:
		return ratelimit.CategoryTouch
	case protocol.TypeKey:
		return ratelimit.CategoryText
	case protocol.TypeMacro:
		return ratelimit.CategoryMacro
	case protocol.TypeAI:
		return ratelimit.CategoryOCR
	}
	return ratelimit.Category("other")
}
