package dicom

import (
	"net"

	"github.com/rs/zerolog/log"

	"github.com/fkie-cad/honeypots/internal/event"
	"github.com/fkie-cad/honeypots/internal/observability"
)

const protocolName = "dicom"

// Adapter binds one session to the event sink: it normalizes lifecycle
// hooks into events, runs identity classification, and never lets a
// hostile object abort the session.
type Adapter struct {
	sink  event.Sink
	creds event.CredentialChecker
	src   event.Peer
	dst   event.Peer
	// event kinds suppressed as known-benign noise, injected at
	// construction
	ignore map[string]struct{}
}

// AdapterConfig wires one adapter instance to its collaborators.
type AdapterConfig struct {
	Sink             event.Sink
	Credentials      event.CredentialChecker
	Remote           net.Addr
	Local            net.Addr
	SuppressedEvents []string
}

func NewAdapter(cfg AdapterConfig) *Adapter {
	ignore := make(map[string]struct{}, len(cfg.SuppressedEvents))
	for _, name := range cfg.SuppressedEvents {
		ignore[name] = struct{}{}
	}
	return &Adapter{
		sink:   cfg.Sink,
		creds:  cfg.Credentials,
		src:    event.PeerFromAddr(cfg.Remote),
		dst:    event.PeerFromAddr(cfg.Local),
		ignore: ignore,
	}
}

// Connection emits the transport-accept event.
func (a *Adapter) Connection() {
	a.emit(event.ActionConnection, nil)
}

// PDUEvent emits one control-unit event named after the unit type, with
// the unit flattened into the data mapping.
func (a *Adapter) PDUEvent(name string, unit any) {
	a.emit(name, event.Flatten(unit))
}

// Operation emits an operation event with adapter-supplied data.
func (a *Adapter) Operation(action string, data map[string]any) {
	a.emit(action, data)
}

// LoginDecision is the identity-negotiation outcome applied to the
// association.
type LoginDecision struct {
	Accepted bool
	Reject   bool
}

// IdentityOutcome classifies the presented identity, emits the login
// event, and decides the association fate. username is auto-accepted
// without verification; username+secret is delegated to the credential
// checker; ticket/assertion/token kinds are always rejected because the
// server cannot validate them without an issuing authority.
func (a *Adapter) IdentityOutcome(assertion IdentityAssertion, classifyErr error) LoginDecision {
	if classifyErr != nil {
		log.Warn().Err(classifyErr).Str("src_ip", a.src.IP).
			Msg("identity classification failed, session stays unauthenticated")
		return LoginDecision{}
	}

	switch assertion.Kind {
	case IdentityUsername:
		a.emit(event.ActionLogin, map[string]any{
			"status":   event.StatusSuccess,
			"username": assertion.Username(),
		})
		return LoginDecision{Accepted: true}

	case IdentityUsernameSecret:
		ok := false
		if a.creds != nil {
			ok = a.creds.Check(assertion.Username(), assertion.Secret(), a.src.IP, portOrZero(a.src.Port))
		}
		status := event.StatusFailed
		if ok {
			status = event.StatusSuccess
		}
		a.emit(event.ActionLogin, map[string]any{
			"status":   status,
			"username": assertion.Username(),
			"password": assertion.Secret(),
		})
		return LoginDecision{Accepted: ok, Reject: !ok}

	default:
		data := map[string]any{
			"status":                     event.StatusFailed,
			assertion.Kind.rawFieldKey(): string(assertion.Primary),
		}
		if assertion.Kind == IdentityJSONWebToken {
			if peek := jwtClaimPeek(assertion.Primary); peek != nil {
				data["claims"] = peek
			}
		}
		a.emit(event.ActionLogin, data)
		return LoginDecision{Reject: true}
	}
}

// emit builds and delivers one event. A panic anywhere in event
// construction is recovered here so a hostile object can break at most
// its own audit record, not the session.
func (a *Adapter) emit(action string, data map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("action", action).
				Msg("event emission recovered")
		}
	}()
	if _, suppressed := a.ignore[action]; suppressed {
		return
	}
	e := event.New(action)
	e.SrcIP = a.src.IP
	e.SrcPort = a.src.Port
	e.DstIP = a.dst.IP
	e.DstPort = a.dst.Port
	e.Data = data
	if err := e.Validate(); err != nil {
		log.Debug().Err(err).Msg("dropping invalid event")
		return
	}
	observability.RecordEvent(protocolName, action)
	a.sink.Log(e)
}

func portOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
