// Package creds provides minimal credential checking for identity
// negotiation.
//
// It intentionally avoids policy decisions and storage concerns.
package creds

import (
	"crypto/subtle"

	"github.com/fkie-cad/honeypots/internal/event"
)

// Static accepts a single configured username/secret pair. Peer address
// and port are accepted for the event.CredentialChecker contract but do
// not influence the decision.
type Static struct {
	Username string
	Secret   string
}

var _ event.CredentialChecker = Static{}

func (s Static) Check(username, secret, _ string, _ int) bool {
	if s.Username == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(s.Username), []byte(username)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(s.Secret), []byte(secret)) == 1
	return userOK && secretOK
}

// RejectAll denies every presented credential.
type RejectAll struct{}

func (RejectAll) Check(_, _, _ string, _ int) bool {
	return false
}
