package audit

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix is where audit records land on the bus, suffixed with
// the lowercased event type: arcs.audit.auth_failure, etc.
const SubjectPrefix = "arcs.audit."

// NATSPublisher mirrors audit records onto a NATS subject so external
// SIEM consumers can subscribe without tailing the log file.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("arcs-relay-audit"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) Publish(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	subject := SubjectPrefix + strings.ToLower(string(rec.Event))
	if err := p.conn.Publish(subject, data); err != nil {
		// Best effort; the file remains the source of truth.
		log.Printf("[AUDIT] NATS publish failed: %v", err)
	}
}

func (p *NATSPublisher) Close() {
	p.conn.Drain()
}
