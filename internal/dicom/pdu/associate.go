package pdu

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Presentation context results in an A-ASSOCIATE-AC.
const (
	ResultAcceptance             byte = 0
	ResultUserRejection          byte = 1
	ResultAbstractSyntaxRejected byte = 3
	ResultTransferSyntaxRejected byte = 4
)

// AssociateRQ is a parsed A-ASSOCIATE-RQ.
type AssociateRQ struct {
	ProtocolVersion        uint16
	CalledAETitle          string
	CallingAETitle         string
	ApplicationContextName string
	PresentationContexts   []PresentationContextRQ
	UserInfo               UserInformation
}

// PresentationContextRQ is one proposed context.
type PresentationContextRQ struct {
	ID               byte
	AbstractSyntax   string
	TransferSyntaxes []string
}

// UserInformation is the user-data item of an associate PDU.
type UserInformation struct {
	MaxPDULength              uint32
	HasMaxPDULength           bool
	ImplementationClassUID    string
	ImplementationVersionName string
	AsyncOpsInvoked           uint16
	AsyncOpsPerformed         uint16
	HasAsyncOps               bool
	RoleSelections            []RoleSelection
	UserIdentity              *UserIdentityRQ
	IdentityResponse          *UserIdentityAC
}

// RoleSelection is an SCP/SCU role negotiation sub-item.
type RoleSelection struct {
	SOPClassUID string
	SCURole     bool
	SCPRole     bool
}

// UserIdentityRQ carries the identity assertion presented by the peer.
type UserIdentityRQ struct {
	IdentityType              byte
	PositiveResponseRequested bool
	PrimaryField              []byte
	SecondaryField            []byte
}

// UserIdentityAC is the server identity response sub-item.
type UserIdentityAC struct {
	ServerResponse []byte
}

// AssociateAC is a built or parsed A-ASSOCIATE-AC.
type AssociateAC struct {
	ProtocolVersion        uint16
	CalledAETitle          string
	CallingAETitle         string
	ApplicationContextName string
	Results                []PresentationContextResult
	UserInfo               UserInformation
}

// PresentationContextResult is one negotiated context outcome.
type PresentationContextResult struct {
	ID             byte
	Result         byte
	TransferSyntax string
}

// AssociateRJ is an A-ASSOCIATE-RJ body.
type AssociateRJ struct {
	Result byte
	Source byte
	Reason byte
}

// Abort is an A-ABORT body.
type Abort struct {
	Source byte
	Reason byte
}

func ParseAssociateRQ(body []byte) (AssociateRQ, error) {
	if len(body) < 68 {
		return AssociateRQ{}, ErrShortBody
	}
	rq := AssociateRQ{
		ProtocolVersion: binary.BigEndian.Uint16(body[0:2]),
		CalledAETitle:   decodeAETitle(body[4:20]),
		CallingAETitle:  decodeAETitle(body[20:36]),
	}
	ir := itemReader{buf: body[68:]}
	for {
		typ, item, ok, err := ir.next()
		if err != nil {
			return AssociateRQ{}, err
		}
		if !ok {
			break
		}
		switch typ {
		case itemApplicationContext:
			rq.ApplicationContextName = trimUID(item)
		case itemPresentationCtxRQ:
			pc, err := parsePresentationContextRQ(item)
			if err != nil {
				return AssociateRQ{}, err
			}
			rq.PresentationContexts = append(rq.PresentationContexts, pc)
		case itemUserInformation:
			ui, err := parseUserInformation(item)
			if err != nil {
				return AssociateRQ{}, err
			}
			rq.UserInfo = ui
		}
	}
	return rq, nil
}

func parsePresentationContextRQ(item []byte) (PresentationContextRQ, error) {
	if len(item) < 4 {
		return PresentationContextRQ{}, ErrShortItem
	}
	pc := PresentationContextRQ{ID: item[0]}
	ir := itemReader{buf: item[4:]}
	for {
		typ, sub, ok, err := ir.next()
		if err != nil {
			return PresentationContextRQ{}, err
		}
		if !ok {
			break
		}
		switch typ {
		case itemAbstractSyntax:
			pc.AbstractSyntax = trimUID(sub)
		case itemTransferSyntax:
			pc.TransferSyntaxes = append(pc.TransferSyntaxes, trimUID(sub))
		}
	}
	return pc, nil
}

func parseUserInformation(item []byte) (UserInformation, error) {
	var ui UserInformation
	ir := itemReader{buf: item}
	for {
		typ, sub, ok, err := ir.next()
		if err != nil {
			return UserInformation{}, err
		}
		if !ok {
			break
		}
		switch typ {
		case itemMaxLength:
			if len(sub) != 4 {
				return UserInformation{}, ErrShortItem
			}
			ui.MaxPDULength = binary.BigEndian.Uint32(sub)
			ui.HasMaxPDULength = true
		case itemImplementationUID:
			ui.ImplementationClassUID = trimUID(sub)
		case itemImplementationName:
			ui.ImplementationVersionName = strings.TrimSpace(string(sub))
		case itemAsyncOperations:
			if len(sub) != 4 {
				return UserInformation{}, ErrShortItem
			}
			ui.AsyncOpsInvoked = binary.BigEndian.Uint16(sub[0:2])
			ui.AsyncOpsPerformed = binary.BigEndian.Uint16(sub[2:4])
			ui.HasAsyncOps = true
		case itemRoleSelection:
			rs, err := parseRoleSelection(sub)
			if err != nil {
				return UserInformation{}, err
			}
			ui.RoleSelections = append(ui.RoleSelections, rs)
		case itemUserIdentityRQ:
			id, err := parseUserIdentityRQ(sub)
			if err != nil {
				return UserInformation{}, err
			}
			ui.UserIdentity = &id
		case itemUserIdentityAC:
			if len(sub) < 2 {
				return UserInformation{}, ErrShortItem
			}
			respLen := int(binary.BigEndian.Uint16(sub[0:2]))
			if len(sub)-2 < respLen {
				return UserInformation{}, ErrShortItem
			}
			resp := make([]byte, respLen)
			copy(resp, sub[2:2+respLen])
			ui.IdentityResponse = &UserIdentityAC{ServerResponse: resp}
		}
	}
	return ui, nil
}

func parseRoleSelection(sub []byte) (RoleSelection, error) {
	if len(sub) < 2 {
		return RoleSelection{}, ErrShortItem
	}
	uidLen := int(binary.BigEndian.Uint16(sub[0:2]))
	if len(sub) < 2+uidLen+2 {
		return RoleSelection{}, ErrShortItem
	}
	return RoleSelection{
		SOPClassUID: trimUID(sub[2 : 2+uidLen]),
		SCURole:     sub[2+uidLen] == 1,
		SCPRole:     sub[2+uidLen+1] == 1,
	}, nil
}

func parseUserIdentityRQ(sub []byte) (UserIdentityRQ, error) {
	if len(sub) < 4 {
		return UserIdentityRQ{}, ErrShortItem
	}
	id := UserIdentityRQ{
		IdentityType:              sub[0],
		PositiveResponseRequested: sub[1] == 1,
	}
	primaryLen := int(binary.BigEndian.Uint16(sub[2:4]))
	if len(sub)-4 < primaryLen {
		return UserIdentityRQ{}, ErrShortItem
	}
	id.PrimaryField = append([]byte(nil), sub[4:4+primaryLen]...)
	rest := sub[4+primaryLen:]
	if len(rest) >= 2 {
		secondaryLen := int(binary.BigEndian.Uint16(rest[0:2]))
		if len(rest)-2 < secondaryLen {
			return UserIdentityRQ{}, ErrShortItem
		}
		if secondaryLen > 0 {
			id.SecondaryField = append([]byte(nil), rest[2:2+secondaryLen]...)
		}
	}
	return id, nil
}

func EncodeAssociateRQ(rq AssociateRQ) PDU {
	body := encodeAssociateFixed(rq.ProtocolVersion, rq.CalledAETitle, rq.CallingAETitle)
	if rq.ApplicationContextName != "" {
		writeItem(&body, itemApplicationContext, []byte(rq.ApplicationContextName))
	}
	for _, pc := range rq.PresentationContexts {
		var item []byte
		item = append(item, pc.ID, 0, 0, 0)
		writeItem(&item, itemAbstractSyntax, []byte(pc.AbstractSyntax))
		for _, ts := range pc.TransferSyntaxes {
			writeItem(&item, itemTransferSyntax, []byte(ts))
		}
		writeItem(&body, itemPresentationCtxRQ, item)
	}
	writeItem(&body, itemUserInformation, encodeUserInformation(rq.UserInfo))
	return PDU{Type: TypeAssociateRQ, Body: body}
}

func EncodeAssociateAC(ac AssociateAC) PDU {
	body := encodeAssociateFixed(ac.ProtocolVersion, ac.CalledAETitle, ac.CallingAETitle)
	if ac.ApplicationContextName != "" {
		writeItem(&body, itemApplicationContext, []byte(ac.ApplicationContextName))
	}
	for _, res := range ac.Results {
		var item []byte
		item = append(item, res.ID, 0, res.Result, 0)
		writeItem(&item, itemTransferSyntax, []byte(res.TransferSyntax))
		writeItem(&body, itemPresentationCtxAC, item)
	}
	writeItem(&body, itemUserInformation, encodeUserInformation(ac.UserInfo))
	return PDU{Type: TypeAssociateAC, Body: body}
}

func ParseAssociateAC(body []byte) (AssociateAC, error) {
	if len(body) < 68 {
		return AssociateAC{}, ErrShortBody
	}
	ac := AssociateAC{
		ProtocolVersion: binary.BigEndian.Uint16(body[0:2]),
		CalledAETitle:   decodeAETitle(body[4:20]),
		CallingAETitle:  decodeAETitle(body[20:36]),
	}
	ir := itemReader{buf: body[68:]}
	for {
		typ, item, ok, err := ir.next()
		if err != nil {
			return AssociateAC{}, err
		}
		if !ok {
			break
		}
		switch typ {
		case itemApplicationContext:
			ac.ApplicationContextName = trimUID(item)
		case itemPresentationCtxAC:
			if len(item) < 4 {
				return AssociateAC{}, ErrShortItem
			}
			res := PresentationContextResult{ID: item[0], Result: item[2]}
			sub := itemReader{buf: item[4:]}
			for {
				st, sb, more, err := sub.next()
				if err != nil {
					return AssociateAC{}, err
				}
				if !more {
					break
				}
				if st == itemTransferSyntax {
					res.TransferSyntax = trimUID(sb)
				}
			}
			ac.Results = append(ac.Results, res)
		case itemUserInformation:
			ui, err := parseUserInformation(item)
			if err != nil {
				return AssociateAC{}, err
			}
			ac.UserInfo = ui
		}
	}
	return ac, nil
}

func encodeAssociateFixed(version uint16, called, calling string) []byte {
	body := make([]byte, 68)
	if version == 0 {
		version = 1
	}
	binary.BigEndian.PutUint16(body[0:2], version)
	calledAE := encodeAETitle(called)
	callingAE := encodeAETitle(calling)
	copy(body[4:20], calledAE[:])
	copy(body[20:36], callingAE[:])
	return body
}

func encodeUserInformation(ui UserInformation) []byte {
	var item []byte
	if ui.HasMaxPDULength {
		var v [4]byte
		binary.BigEndian.PutUint32(v[:], ui.MaxPDULength)
		writeItem(&item, itemMaxLength, v[:])
	}
	if ui.ImplementationClassUID != "" {
		writeItem(&item, itemImplementationUID, []byte(ui.ImplementationClassUID))
	}
	if ui.HasAsyncOps {
		var v [4]byte
		binary.BigEndian.PutUint16(v[0:2], ui.AsyncOpsInvoked)
		binary.BigEndian.PutUint16(v[2:4], ui.AsyncOpsPerformed)
		writeItem(&item, itemAsyncOperations, v[:])
	}
	for _, rs := range ui.RoleSelections {
		var sub []byte
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(rs.SOPClassUID)))
		sub = append(sub, l[:]...)
		sub = append(sub, rs.SOPClassUID...)
		sub = append(sub, boolByte(rs.SCURole), boolByte(rs.SCPRole))
		writeItem(&item, itemRoleSelection, sub)
	}
	if ui.ImplementationVersionName != "" {
		writeItem(&item, itemImplementationName, []byte(ui.ImplementationVersionName))
	}
	if ui.UserIdentity != nil {
		id := ui.UserIdentity
		var sub []byte
		sub = append(sub, id.IdentityType, boolByte(id.PositiveResponseRequested))
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(id.PrimaryField)))
		sub = append(sub, l[:]...)
		sub = append(sub, id.PrimaryField...)
		binary.BigEndian.PutUint16(l[:], uint16(len(id.SecondaryField)))
		sub = append(sub, l[:]...)
		sub = append(sub, id.SecondaryField...)
		writeItem(&item, itemUserIdentityRQ, sub)
	}
	if ui.IdentityResponse != nil {
		var sub []byte
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(ui.IdentityResponse.ServerResponse)))
		sub = append(sub, l[:]...)
		sub = append(sub, ui.IdentityResponse.ServerResponse...)
		writeItem(&item, itemUserIdentityAC, sub)
	}
	return item
}

func EncodeAssociateRJ(rj AssociateRJ) PDU {
	return PDU{Type: TypeAssociateRJ, Body: []byte{0, rj.Result, rj.Source, rj.Reason}}
}

func ParseAssociateRJ(body []byte) (AssociateRJ, error) {
	if len(body) < 4 {
		return AssociateRJ{}, ErrShortBody
	}
	return AssociateRJ{Result: body[1], Source: body[2], Reason: body[3]}, nil
}

func EncodeReleaseRQ() PDU {
	return PDU{Type: TypeReleaseRQ, Body: make([]byte, 4)}
}

func EncodeReleaseRP() PDU {
	return PDU{Type: TypeReleaseRP, Body: make([]byte, 4)}
}

func EncodeAbort(a Abort) PDU {
	return PDU{Type: TypeAbort, Body: []byte{0, 0, a.Source, a.Reason}}
}

func ParseAbort(body []byte) (Abort, error) {
	if len(body) < 4 {
		return Abort{}, ErrShortBody
	}
	return Abort{Source: body[2], Reason: body[3]}, nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// UIDs are padded to even length with a trailing NUL on the wire.
func trimUID(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00 ")
}

func (a *AssociateRQ) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Protocol Version : %d\n", a.ProtocolVersion)
	fmt.Fprintf(&b, "Calling AE Title : %s\n", a.CallingAETitle)
	fmt.Fprintf(&b, "Called AE Title : %s\n", a.CalledAETitle)
	return b.String()
}

// ApplicationContext implements the flattener's app-context carrier.
func (a *AssociateRQ) ApplicationContext() (string, bool) {
	return a.ApplicationContextName, a.ApplicationContextName != ""
}

// SubItems exposes the proposed presentation contexts to the flattener.
func (a *AssociateRQ) SubItems() []any {
	items := make([]any, 0, len(a.PresentationContexts))
	for i := range a.PresentationContexts {
		items = append(items, &a.PresentationContexts[i])
	}
	return items
}

// UserDataItems exposes the user-information children to the flattener.
func (a *AssociateRQ) UserDataItems() []any {
	return a.UserInfo.children()
}

func (p *PresentationContextRQ) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Presentation Context ID : %d\n", p.ID)
	fmt.Fprintf(&b, "Abstract Syntax : %s\n", p.AbstractSyntax)
	for _, ts := range p.TransferSyntaxes {
		fmt.Fprintf(&b, "Transfer Syntax : %s\n", ts)
	}
	return b.String()
}

func (ui UserInformation) children() []any {
	var items []any
	if ui.HasMaxPDULength {
		items = append(items, maxLengthChild{ui.MaxPDULength})
	}
	if ui.ImplementationClassUID != "" {
		items = append(items, implementationUIDChild{ui.ImplementationClassUID})
	}
	if ui.ImplementationVersionName != "" {
		items = append(items, implementationNameChild{ui.ImplementationVersionName})
	}
	if ui.HasAsyncOps {
		items = append(items, asyncOpsChild{ui.AsyncOpsInvoked, ui.AsyncOpsPerformed})
	}
	for _, rs := range ui.RoleSelections {
		items = append(items, rs)
	}
	if ui.UserIdentity != nil {
		items = append(items, *ui.UserIdentity)
	}
	return items
}

type maxLengthChild struct{ value uint32 }

func (c maxLengthChild) String() string {
	return fmt.Sprintf("Maximum Length Received : %d", c.value)
}

type implementationUIDChild struct{ uid string }

func (c implementationUIDChild) String() string {
	return fmt.Sprintf("Implementation Class UID : %s", c.uid)
}

type implementationNameChild struct{ name string }

func (c implementationNameChild) String() string {
	return fmt.Sprintf("Implementation Version Name : %s", c.name)
}

type asyncOpsChild struct{ invoked, performed uint16 }

func (c asyncOpsChild) String() string {
	return fmt.Sprintf("Asynchronous Operations Invoked : %d\nAsynchronous Operations Performed : %d", c.invoked, c.performed)
}

func (rs RoleSelection) String() string {
	return fmt.Sprintf("Role Selection SOP Class : %s\nSCU Role : %t\nSCP Role : %t", rs.SOPClassUID, rs.SCURole, rs.SCPRole)
}

// The identity rendering deliberately omits the raw fields; the login
// event carries the presented material.
func (id UserIdentityRQ) String() string {
	return fmt.Sprintf(
		"User Identity Type : %d\nPositive Response Requested : %t\nPrimary Field Length : %d\nSecondary Field Length : %d",
		id.IdentityType, id.PositiveResponseRequested, len(id.PrimaryField), len(id.SecondaryField),
	)
}

func (rj AssociateRJ) String() string {
	return fmt.Sprintf("Result : %d\nSource : %d\nReason : %d", rj.Result, rj.Source, rj.Reason)
}

func (a Abort) String() string {
	return fmt.Sprintf("Source : %d\nReason : %d", a.Source, a.Reason)
}
