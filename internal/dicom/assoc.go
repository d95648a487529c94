package dicom

import (
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fkie-cad/honeypots/internal/dicom/pdu"
	"github.com/fkie-cad/honeypots/internal/event"
	"github.com/fkie-cad/honeypots/internal/observability"
)

// Association rejection codes (result, source, reason).
const (
	rejectPermanent          byte = 1
	rejectSourceServiceUser  byte = 1
	rejectReasonNotSpecified byte = 1
)

const (
	sessionIdleTimeout = 5 * time.Minute
	cancelPollWindow   = 5 * time.Millisecond
)

// Config is the per-listener server configuration.
type Config struct {
	AETitle          string
	ArtifactDir      string
	StoreImages      bool
	MaxPDULength     uint32
	SuppressedEvents []string
}

// Server accepts associations and runs one session per connection.
type Server struct {
	cfg    Config
	sink   event.Sink
	creds  event.CredentialChecker
	limits pdu.Limits
	synth  *Synthesizer
}

func NewServer(cfg Config, sink event.Sink, creds event.CredentialChecker) *Server {
	if cfg.AETitle == "" {
		cfg.AETitle = "ANY-SCP"
	}
	if cfg.MaxPDULength == 0 {
		cfg.MaxPDULength = 16382
	}
	return &Server{
		cfg:    cfg,
		sink:   sink,
		creds:  creds,
		limits: pdu.DefaultLimits(),
		synth:  &Synthesizer{ArtifactDir: cfg.ArtifactDir},
	}
}

// Serve accepts connections until the listener closes. Each session
// runs in its own goroutine and owns its state exclusively.
func (s *Server) Serve(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		observability.RecordSession(protocolName)
		go s.handle(conn)
	}
}

type acceptedContext struct {
	abstractSyntax string
	transferSyntax string
}

type session struct {
	srv      *Server
	conn     net.Conn
	adapter  *Adapter
	contexts map[byte]acceptedContext
	// abstract syntaxes for which the peer negotiated the SCP role
	peerSCPRoles map[string]bool
	assembler    messageAssembler
	pushback     *pdu.PDU
	cancelled    map[uint16]bool
	sawPDU       bool
	nextMsgID    uint16
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("dicom session recovered")
		}
	}()

	sess := &session{
		srv:  s,
		conn: conn,
		adapter: NewAdapter(AdapterConfig{
			Sink:             s.sink,
			Credentials:      s.creds,
			Remote:           conn.RemoteAddr(),
			Local:            conn.LocalAddr(),
			SuppressedEvents: s.cfg.SuppressedEvents,
		}),
		contexts:     make(map[byte]acceptedContext),
		peerSCPRoles: make(map[string]bool),
		cancelled:    make(map[uint16]bool),
		nextMsgID:    1,
	}
	sess.adapter.Connection()
	sess.run()
}

func (s *session) run() {
	for {
		p, err := s.nextPDU()
		if err != nil {
			// Half-open scans close or reset the transport before any
			// PDU; that is expected background noise, not a fault.
			if s.sawPDU || !isBenignDisconnect(err) {
				log.Debug().Err(err).Msg("dicom session read ended")
			}
			return
		}
		s.sawPDU = true

		switch p.Type {
		case pdu.TypeAssociateRQ:
			if !s.onAssociate(p) {
				return
			}
		case pdu.TypePDataTF:
			s.onPData(p)
		case pdu.TypeReleaseRQ:
			s.adapter.PDUEvent(p.Type.String(), nil)
			s.writePDU(pdu.EncodeReleaseRP())
			return
		case pdu.TypeAbort:
			abort, err := pdu.ParseAbort(p.Body)
			if err != nil {
				s.adapter.PDUEvent(p.Type.String(), nil)
			} else {
				s.adapter.PDUEvent(p.Type.String(), abort)
			}
			return
		default:
			// AC/RJ/RP are not valid from an initiating peer; log the
			// sighting and cut the association.
			s.adapter.PDUEvent(p.Type.String(), nil)
			s.writePDU(pdu.EncodeAbort(pdu.Abort{Source: 2}))
			return
		}
	}
}

func (s *session) nextPDU() (pdu.PDU, error) {
	if s.pushback != nil {
		p := *s.pushback
		s.pushback = nil
		return p, nil
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(sessionIdleTimeout)); err != nil {
		return pdu.PDU{}, err
	}
	return pdu.ReadPDU(s.conn, s.srv.limits)
}

func (s *session) writePDU(p pdu.PDU) bool {
	if err := pdu.WritePDU(s.conn, p); err != nil {
		log.Debug().Err(err).Msg("dicom session write failed")
		return false
	}
	return true
}

func (s *session) onAssociate(p pdu.PDU) bool {
	rq, err := pdu.ParseAssociateRQ(p.Body)
	if err != nil {
		log.Debug().Err(err).Msg("malformed associate request")
		s.writePDU(pdu.EncodeAbort(pdu.Abort{Source: 2}))
		return false
	}
	s.adapter.PDUEvent(p.Type.String(), &rq)

	identityAck := false
	if id := rq.UserInfo.UserIdentity; id != nil {
		assertion, cerr := ClassifyIdentity(id.IdentityType, id.PrimaryField, id.SecondaryField)
		decision := s.adapter.IdentityOutcome(assertion, cerr)
		if decision.Reject {
			s.writePDU(pdu.EncodeAssociateRJ(pdu.AssociateRJ{
				Result: rejectPermanent,
				Source: rejectSourceServiceUser,
				Reason: rejectReasonNotSpecified,
			}))
			return false
		}
		identityAck = decision.Accepted && id.PositiveResponseRequested
	}

	ac := pdu.AssociateAC{
		ProtocolVersion:        rq.ProtocolVersion,
		CalledAETitle:          rq.CalledAETitle,
		CallingAETitle:         rq.CallingAETitle,
		ApplicationContextName: uidApplicationContext,
		UserInfo: pdu.UserInformation{
			MaxPDULength:              s.srv.cfg.MaxPDULength,
			HasMaxPDULength:           true,
			ImplementationClassUID:    implementationClassUID,
			ImplementationVersionName: implementationVersionName,
		},
	}
	// The deception surface accepts every proposed context it can.
	for _, pc := range rq.PresentationContexts {
		res := pdu.PresentationContextResult{ID: pc.ID}
		if len(pc.TransferSyntaxes) == 0 {
			res.Result = pdu.ResultTransferSyntaxRejected
		} else {
			res.Result = pdu.ResultAcceptance
			res.TransferSyntax = pc.TransferSyntaxes[0]
			s.contexts[pc.ID] = acceptedContext{
				abstractSyntax: pc.AbstractSyntax,
				transferSyntax: pc.TransferSyntaxes[0],
			}
		}
		ac.Results = append(ac.Results, res)
	}
	for _, rs := range rq.UserInfo.RoleSelections {
		if rs.SCPRole {
			s.peerSCPRoles[rs.SOPClassUID] = true
			// mirror the peer's requested roles back
			ac.UserInfo.RoleSelections = append(ac.UserInfo.RoleSelections, rs)
		}
	}
	if identityAck {
		ac.UserInfo.IdentityResponse = &pdu.UserIdentityAC{}
	}
	return s.writePDU(pdu.EncodeAssociateAC(ac))
}

func (s *session) onPData(p pdu.PDU) {
	pdvs, err := pdu.ParsePDataTF(p.Body)
	if err != nil {
		log.Debug().Err(err).Msg("malformed p-data pdu")
		return
	}
	for _, pdv := range pdvs {
		complete, err := s.assembler.push(pdv)
		if err != nil {
			log.Debug().Err(err).Msg("message assembly failed")
			s.assembler = messageAssembler{}
			continue
		}
		if complete {
			cmd := *s.assembler.cmd
			data := s.assembler.dataBuf
			ctxID := s.assembler.ctxID
			s.assembler = messageAssembler{}
			s.dispatch(cmd, data, ctxID)
		}
	}
}

func (s *session) dispatch(cmd CommandSet, data []byte, ctxID byte) {
	started := time.Now()
	name := commandName(cmd.Field)
	defer func() {
		observability.RecordReply(protocolName, name, time.Since(started))
	}()

	switch cmd.Field {
	case CommandCEchoRQ:
		s.adapter.Operation(name, nil)
		s.sendCommand(ctxID, cmd.Response(s.srv.synth.Echo()))

	case CommandCStoreRQ:
		s.onStore(cmd, data, ctxID)

	case CommandCFindRQ:
		s.onFind(cmd, data, ctxID)

	case CommandCGetRQ:
		s.onGet(cmd, data, ctxID)

	case CommandCMoveRQ:
		s.onMove(cmd, data, ctxID)

	case CommandCCancelRQ:
		s.cancelled[cmd.RespondedTo] = true
		s.adapter.Operation(name, map[string]any{
			"message_id": strconv.Itoa(int(cmd.RespondedTo)),
		})

	default:
		// Unknown operation: audit it and refuse without dropping the
		// association.
		s.adapter.Operation(name, nil)
		if !cmd.IsResponse() {
			s.sendCommand(ctxID, cmd.Response(StatusFailure))
		}
	}
}

func (s *session) onStore(cmd CommandSet, data []byte, ctxID byte) {
	ctx := s.contexts[ctxID]
	s.adapter.Operation("C-STORE", map[string]any{
		"SOPClassUID":     cmd.SOPClassUID,
		"SOPInstanceUID":  cmd.SOPInstanceUID,
		"transfer_syntax": ctx.transferSyntax,
		"size":            strconv.Itoa(len(data)),
	})

	status := StatusSuccess
	if s.srv.cfg.StoreImages {
		res := s.srv.synth.Store(StoreRequest{
			SOPClassUID:    cmd.SOPClassUID,
			SOPInstanceUID: cmd.SOPInstanceUID,
			TransferSyntax: ctx.transferSyntax,
			Payload:        data,
		})
		status = res.Status
		if res.Err == nil {
			observability.RecordStoredArtifact(res.Size)
			s.adapter.Operation("store_image", map[string]any{
				"size":      strconv.Itoa(res.Size),
				"file_path": res.Path,
			})
		}
	}
	rsp := cmd.Response(status)
	rsp.SOPInstanceUID = cmd.SOPInstanceUID
	s.sendCommand(ctxID, rsp)
}

func (s *session) onFind(cmd CommandSet, data []byte, ctxID byte) {
	elems := s.decodeIdentifier(data)
	s.adapter.Operation("C-FIND", EventData(elems))

	scope, _ := QueryScope(elems)
	responder := s.srv.synth.Find(scope, s.cancelPoll(cmd.MessageID))
	for {
		step, ok := responder.Next()
		if !ok {
			return
		}
		switch step.State {
		case GetFailed:
			s.sendCommand(ctxID, cmd.Response(step.Status))
		case GetAnnounced:
			// C-FIND has no count announcement on the wire; the match
			// itself is the pending step.
		case GetCancelled:
			s.sendCommand(ctxID, cmd.Response(step.Status))
		case GetPending:
			rsp := cmd.Response(step.Status)
			rsp.HasDataSet = true
			s.sendMessage(ctxID, rsp, EncodeDataSet(step.Payload))
		case GetDone:
			s.sendCommand(ctxID, cmd.Response(step.Status))
		}
	}
}

func (s *session) onGet(cmd CommandSet, data []byte, ctxID byte) {
	elems := s.decodeIdentifier(data)
	s.adapter.Operation("C-GET", EventData(elems))

	scope, _ := QueryScope(elems)
	responder := s.srv.synth.Get(scope, s.cancelPoll(cmd.MessageID))
	var completed, failed uint16
	for {
		step, ok := responder.Next()
		if !ok {
			return
		}
		switch step.State {
		case GetFailed:
			rsp := cmd.Response(step.Status)
			rsp.SubOps = &SubOperationCounts{}
			s.sendCommand(ctxID, rsp)
		case GetAnnounced:
			rsp := cmd.Response(step.Status)
			rsp.SubOps = &SubOperationCounts{Remaining: step.Remaining}
			s.sendCommand(ctxID, rsp)
		case GetCancelled:
			rsp := cmd.Response(step.Status)
			rsp.SubOps = &SubOperationCounts{Remaining: 1}
			s.sendCommand(ctxID, rsp)
		case GetPending:
			if s.storeSubOperation(step.Payload) {
				completed++
			} else {
				failed++
			}
		case GetDone:
			rsp := cmd.Response(step.Status)
			rsp.SubOps = &SubOperationCounts{Completed: completed, Failed: failed}
			s.sendCommand(ctxID, rsp)
		}
	}
}

func (s *session) onMove(cmd CommandSet, data []byte, ctxID byte) {
	elems := s.decodeIdentifier(data)
	eventData := EventData(elems)
	if cmd.MoveDestination != "" {
		eventData["move_destination"] = cmd.MoveDestination
	}
	s.adapter.Operation("C-MOVE", eventData)

	scope, _ := QueryScope(elems)
	rsp := cmd.Response(s.srv.synth.Move(scope))
	rsp.SubOps = &SubOperationCounts{}
	s.sendCommand(ctxID, rsp)
}

// storeSubOperation delivers the demonstration record back to the peer
// as a C-STORE on a context it negotiated with the SCP role.
func (s *session) storeSubOperation(record []DataElement) bool {
	sopClass := findElement(record, 0x0008, 0x0016)
	instance := findElement(record, 0x0008, 0x0018)
	ctxID, ok := s.contextForSubOperation(sopClass)
	if !ok {
		log.Debug().Str("sop_class", sopClass).Msg("no SCP-role context for sub-operation")
		return false
	}
	msgID := s.nextMsgID
	s.nextMsgID++
	cmd := CommandSet{
		Field:          CommandCStoreRQ,
		MessageID:      msgID,
		SOPClassUID:    sopClass,
		SOPInstanceUID: instance,
		HasDataSet:     true,
	}
	if !s.sendMessage(ctxID, cmd, EncodeDataSet(record)) {
		return false
	}
	return s.awaitStoreResponse(msgID)
}

func (s *session) contextForSubOperation(sopClass string) (byte, bool) {
	for id, ctx := range s.contexts {
		if ctx.abstractSyntax == sopClass && s.peerSCPRoles[sopClass] {
			return id, true
		}
	}
	return 0, false
}

func (s *session) awaitStoreResponse(msgID uint16) bool {
	var assembler messageAssembler
	for {
		p, err := s.nextPDU()
		if err != nil {
			return false
		}
		if p.Type != pdu.TypePDataTF {
			s.pushback = &p
			return false
		}
		pdvs, err := pdu.ParsePDataTF(p.Body)
		if err != nil {
			return false
		}
		for _, pdv := range pdvs {
			complete, err := assembler.push(pdv)
			if err != nil {
				return false
			}
			if complete {
				cmd := *assembler.cmd
				assembler = messageAssembler{}
				if cmd.Field == CommandCStoreRQ|commandRSPMask && cmd.RespondedTo == msgID {
					return cmd.Status == StatusSuccess
				}
			}
		}
	}
}

// cancelPoll checks for a buffered or just-arrived C-CANCEL for the
// given request. Cooperative: polled between query steps only.
func (s *session) cancelPoll(msgID uint16) func() bool {
	return func() bool {
		if s.cancelled[msgID] {
			return true
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(cancelPollWindow)); err != nil {
			return false
		}
		p, err := pdu.ReadPDU(s.conn, s.srv.limits)
		if err != nil {
			return false
		}
		if p.Type != pdu.TypePDataTF {
			s.pushback = &p
			return false
		}
		pdvs, err := pdu.ParsePDataTF(p.Body)
		if err != nil {
			return false
		}
		replay := false
		for _, pdv := range pdvs {
			if !pdv.IsCommand || !pdv.IsLast {
				replay = true
				continue
			}
			cmd, err := DecodeCommandSet(pdv.Data)
			if err != nil || cmd.Field != CommandCCancelRQ {
				replay = true
				continue
			}
			s.cancelled[cmd.RespondedTo] = true
		}
		if replay {
			// a pipelined request rather than a cancel; the main loop
			// answers it once the query completes
			s.pushback = &p
		}
		return s.cancelled[msgID]
	}
}

func (s *session) decodeIdentifier(data []byte) []DataElement {
	elems, err := DecodeDataSet(data)
	if err != nil {
		// Partial identifiers still produce a partial audit record.
		log.Debug().Err(err).Msg("query identifier decode degraded")
	}
	return elems
}

func (s *session) sendCommand(ctxID byte, cmd CommandSet) bool {
	return s.writePDU(pdu.EncodePDataTF([]pdu.PDV{{
		ContextID: ctxID,
		IsCommand: true,
		IsLast:    true,
		Data:      cmd.Encode(),
	}}))
}

func (s *session) sendMessage(ctxID byte, cmd CommandSet, data []byte) bool {
	cmd.HasDataSet = true
	return s.writePDU(pdu.EncodePDataTF([]pdu.PDV{
		{ContextID: ctxID, IsCommand: true, IsLast: true, Data: cmd.Encode()},
		{ContextID: ctxID, IsCommand: false, IsLast: true, Data: data},
	}))
}

func isBenignDisconnect(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, pdu.ErrShortHeader) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// connection resets surface as *net.OpError without the timeout
	// interface satisfied consistently across platforms
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// messageAssembler reassembles one DIMSE message from PDV fragments.
type messageAssembler struct {
	ctxID   byte
	started bool
	cmdBuf  []byte
	dataBuf []byte
	cmd     *CommandSet
}

var errStrayDataPDV = errors.New("dicom: data pdv before command")

func (m *messageAssembler) push(p pdu.PDV) (bool, error) {
	if p.IsCommand {
		if m.cmd != nil {
			return false, ErrBadCommandSet
		}
		if !m.started {
			m.ctxID = p.ContextID
			m.started = true
		}
		m.cmdBuf = append(m.cmdBuf, p.Data...)
		if !p.IsLast {
			return false, nil
		}
		cmd, err := DecodeCommandSet(m.cmdBuf)
		if err != nil {
			return false, err
		}
		m.cmd = &cmd
		return !cmd.HasDataSet, nil
	}

	if m.cmd == nil {
		return false, errStrayDataPDV
	}
	m.dataBuf = append(m.dataBuf, p.Data...)
	return p.IsLast, nil
}
