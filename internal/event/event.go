// Package event defines the normalized audit event emitted by every
// protocol adapter and the narrow collaborator contracts the adapters
// depend on.
package event

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Actions shared across protocol adapters. Protocol-specific actions
// (PDU names, operation names) live with their adapter.
const (
	ActionConnection = "connection"
	ActionLogin      = "login"
	ActionError      = "error"
)

// Login statuses recorded under data["status"].
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Event is one observable interaction, normalized across protocols.
// Data values are string, map[string]any, or []map[string]any; keys are
// stable names independent of the originating protocol object layout.
type Event struct {
	Timestamp string         `json:"timestamp"`
	Action    string         `json:"action"`
	SrcIP     string         `json:"src_ip,omitempty"`
	SrcPort   *int           `json:"src_port,omitempty"`
	DstIP     string         `json:"dest_ip,omitempty"`
	DstPort   *int           `json:"dest_port,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

func New(action string) Event {
	return Event{
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000000"),
		Action:    action,
	}
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.Action) == "" {
		return fmt.Errorf("event missing action")
	}
	return nil
}

// Peer is one endpoint of a session. Port is absent for transports that
// carry no port (local-domain sockets), never zero-filled.
type Peer struct {
	IP   string
	Port *int
}

// PeerFromAddr extracts address and optional port from a net.Addr.
func PeerFromAddr(addr net.Addr) Peer {
	if addr == nil {
		return Peer{}
	}
	switch a := addr.(type) {
	case *net.TCPAddr:
		port := a.Port
		return Peer{IP: a.IP.String(), Port: &port}
	case *net.UDPAddr:
		port := a.Port
		return Peer{IP: a.IP.String(), Port: &port}
	case *net.UnixAddr:
		return Peer{IP: a.Name}
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return Peer{IP: addr.String()}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Peer{IP: host}
	}
	return Peer{IP: host, Port: &port}
}

// Sink receives finished events. Implementations must be safe for
// concurrent use and never fail observably to the caller.
type Sink interface {
	Log(Event)
}

// CredentialChecker verifies a presented username/secret pair for the
// peer that presented it. Implementations must be safe for concurrent
// use.
type CredentialChecker interface {
	Check(username, secret, peerAddr string, peerPort int) bool
}

// CheckerFunc adapts a function into a CredentialChecker.
type CheckerFunc func(username, secret, peerAddr string, peerPort int) bool

func (f CheckerFunc) Check(username, secret, peerAddr string, peerPort int) bool {
	return f(username, secret, peerAddr, peerPort)
}
