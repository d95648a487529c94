package dicom

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityKind is the closed classification of presented identity
// material.
type IdentityKind int

const (
	IdentityUnknown IdentityKind = iota
	IdentityUsername
	IdentityUsernameSecret
	IdentityKerberosTicket
	IdentitySAMLAssertion
	IdentityJSONWebToken
)

func (k IdentityKind) String() string {
	switch k {
	case IdentityUsername:
		return "username"
	case IdentityUsernameSecret:
		return "username+secret"
	case IdentityKerberosTicket:
		return "kerberos-ticket"
	case IdentitySAMLAssertion:
		return "saml-assertion"
	case IdentityJSONWebToken:
		return "json-web-token"
	}
	return "unknown"
}

// Audit keys for the raw presented material of unverifiable kinds.
func (k IdentityKind) rawFieldKey() string {
	switch k {
	case IdentityKerberosTicket:
		return "kerberos_ticket"
	case IdentitySAMLAssertion:
		return "saml_assertion"
	case IdentityJSONWebToken:
		return "json_web_token"
	}
	return "identity"
}

var (
	ErrUnknownIdentityKind    = errors.New("dicom: unrecognized user identity type")
	ErrMalformedIdentityField = errors.New("dicom: malformed user identity field")
)

// IdentityAssertion is the classified identity material of one session.
// Immutable after classification.
type IdentityAssertion struct {
	Kind      IdentityKind
	Primary   []byte
	Secondary []byte
}

func (a IdentityAssertion) Username() string {
	return string(a.Primary)
}

func (a IdentityAssertion) Secret() string {
	return string(a.Secondary)
}

// ClassifyIdentity maps the wire's numeric identity type onto the
// closed kind enumeration and validates the field combination for the
// kinds that get decoded. A decode failure is a returned error, never a
// panic; the byte fields are attacker-controlled.
func ClassifyIdentity(rawKind byte, primary, secondary []byte) (IdentityAssertion, error) {
	var kind IdentityKind
	switch rawKind {
	case 1:
		kind = IdentityUsername
	case 2:
		kind = IdentityUsernameSecret
	case 3:
		kind = IdentityKerberosTicket
	case 4:
		kind = IdentitySAMLAssertion
	case 5:
		kind = IdentityJSONWebToken
	default:
		return IdentityAssertion{}, fmt.Errorf("%w: %d", ErrUnknownIdentityKind, rawKind)
	}

	assertion := IdentityAssertion{Kind: kind, Primary: primary, Secondary: secondary}
	switch kind {
	case IdentityUsername:
		if len(primary) == 0 || !utf8.Valid(primary) {
			return IdentityAssertion{}, fmt.Errorf("%w: username not decodable", ErrMalformedIdentityField)
		}
	case IdentityUsernameSecret:
		if len(primary) == 0 || !utf8.Valid(primary) {
			return IdentityAssertion{}, fmt.Errorf("%w: username not decodable", ErrMalformedIdentityField)
		}
		if len(secondary) == 0 || !utf8.Valid(secondary) {
			return IdentityAssertion{}, fmt.Errorf("%w: secret missing or not decodable", ErrMalformedIdentityField)
		}
	}
	return assertion, nil
}

// jwtClaimPeek decodes a presented token without verifying it and
// returns a few identifying claims for the audit trail. The token is
// never trusted; a parse failure just yields nothing.
func jwtClaimPeek(raw []byte) map[string]any {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(string(raw), claims); err != nil {
		return nil
	}
	peek := map[string]any{}
	if iss, err := claims.GetIssuer(); err == nil && iss != "" {
		peek["issuer"] = iss
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		peek["subject"] = sub
	}
	if len(peek) == 0 {
		return nil
	}
	return peek
}
