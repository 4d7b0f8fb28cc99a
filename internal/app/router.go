package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chatter/internal/core"
	"github.com/dkeye/Chatter/internal/domain"
	"github.com/dkeye/Chatter/internal/metrics"
	"github.com/dkeye/Chatter/internal/protocol"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrMalformed    = errors.New("malformed event")
	ErrForbidden    = errors.New("forbidden")
)

// Delivery is the fan-out strategy declared for an event kind. Every kind
// has exactly one; the table below is the single place that decides
// broadcast vs unicast.
type Delivery int

const (
	// DeliverNone acks the sender only; the event is a state mutation.
	DeliverNone Delivery = iota
	// DeliverRoom broadcasts to the room, excluding the sender connection.
	DeliverRoom
	// DeliverRoomAll broadcasts to the room including the sender
	// connection, so all of the sender's tabs converge.
	DeliverRoomAll
	// DeliverGlobal reaches every live connection except the sender's.
	DeliverGlobal
	// DeliverDirect targets one user's live connections via the call relay.
	DeliverDirect
)

// plan is what decoding an inbound event produces: where the outbound
// event goes and what it looks like. Events exist only for this one hop.
type plan struct {
	room       domain.RoomID
	target     domain.UserID
	event      any
	kind       protocol.Kind
	ack        any
	notifyUser domain.UserID
	notify     any
}

type route struct {
	delivery Delivery
	decode   func(r *EventRouter, sess core.ConnSession, data []byte) (*plan, error)
}

// EventRouter owns the dispatch table. All collaborators are injected;
// nothing here reaches for ambient state.
//
// Ordering: Dispatch runs on the sender's read goroutine and each
// recipient has an ordered send queue, which yields FIFO per
// (sender, room). Nothing stronger is promised across senders.
type EventRouter struct {
	Presence *PresenceTable
	Rooms    *RoomRegistry
	Conns    *ConnRegistry
	Calls    *CallRelay
	Policy   Policy
	Metrics  *metrics.Metrics

	now func() time.Time
}

func NewEventRouter(p *PresenceTable, rooms *RoomRegistry, conns *ConnRegistry, calls *CallRelay, pol Policy, m *metrics.Metrics) *EventRouter {
	if pol == nil {
		pol = AllowAll{}
	}
	return &EventRouter{
		Presence: p,
		Rooms:    rooms,
		Conns:    conns,
		Calls:    calls,
		Policy:   pol,
		Metrics:  m,
		now:      time.Now,
	}
}

var routes = map[protocol.Kind]route{
	protocol.KindJoinConversation:  {DeliverNone, (*EventRouter).decodeJoin},
	protocol.KindLeaveConversation: {DeliverNone, (*EventRouter).decodeLeave},
	protocol.KindSendMessage:       {DeliverRoom, (*EventRouter).decodeSendMessage},
	protocol.KindTypingStart:       {DeliverRoom, (*EventRouter).decodeTyping},
	protocol.KindTypingStop:        {DeliverRoom, (*EventRouter).decodeTyping},
	protocol.KindMarkRead:          {DeliverRoom, (*EventRouter).decodeMarkRead},
	protocol.KindDeleteMessage:     {DeliverRoomAll, (*EventRouter).decodeDeleteMessage},
	protocol.KindEditMessage:       {DeliverRoomAll, (*EventRouter).decodeEditMessage},
	protocol.KindUpdateStatus:      {DeliverGlobal, (*EventRouter).decodeUpdateStatus},
	protocol.KindCallUser:          {DeliverDirect, (*EventRouter).decodeCallSignal},
	protocol.KindAcceptCall:        {DeliverDirect, (*EventRouter).decodeCallSignal},
	protocol.KindRejectCall:        {DeliverDirect, (*EventRouter).decodeCallSignal},
	protocol.KindEndCall:           {DeliverDirect, (*EventRouter).decodeCallSignal},
	protocol.KindICECandidate:      {DeliverDirect, (*EventRouter).decodeCallSignal},
}

// Dispatch routes one inbound event. A non-nil error means the event was
// dropped; the session reports it to the sender and keeps the connection
// open.
func (r *EventRouter) Dispatch(sess core.ConnSession, kind protocol.Kind, data []byte) error {
	rt, ok := routes[kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, kind)
	}
	p, err := rt.decode(r, sess, data)
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			r.Metrics.MalformedTotal.Inc()
		}
		return err
	}
	if p == nil {
		return nil
	}

	switch rt.delivery {
	case DeliverRoom:
		r.broadcastRoom(p.room, sess.ID(), p.kind, p.event)
	case DeliverRoomAll:
		r.broadcastRoom(p.room, "", p.kind, p.event)
	case DeliverGlobal:
		r.broadcastGlobal(sess.ID(), "", p.kind, p.event)
	case DeliverDirect:
		r.Calls.Relay(p.target, p.kind, p.event)
	case DeliverNone:
	}

	if p.notify != nil {
		r.Calls.Relay(p.notifyUser, protocol.KindMessageNotification, p.notify)
	}
	if p.ack != nil {
		r.sendEvent(sess, p.kind, p.ack)
	}
	return nil
}

// AnnouncePresence broadcasts a presence table instruction to every
// connection not belonging to the subject user.
func (r *EventRouter) AnnouncePresence(ann *Announce) {
	if ann == nil {
		return
	}
	var (
		kind  protocol.Kind
		event any
	)
	switch ann.Kind {
	case AnnounceOnline:
		kind = protocol.KindUserOnline
		event = protocol.UserOnline{Type: kind, UserID: ann.UserID}
	case AnnounceOffline:
		kind = protocol.KindUserOffline
		event = protocol.UserOffline{Type: kind, UserID: ann.UserID, LastSeen: ann.LastSeen}
	case AnnounceStatus:
		kind = protocol.KindUserStatusChanged
		event = protocol.UserStatusChanged{Type: kind, UserID: ann.UserID, Status: ann.Status}
	default:
		return
	}
	r.broadcastGlobal("", ann.UserID, kind, event)
}

func (r *EventRouter) broadcastRoom(room domain.RoomID, exclude core.ConnID, kind protocol.Kind, event any) {
	frame, err := protocol.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Str("kind", string(kind)).Msg("marshal broadcast")
		return
	}
	for _, cs := range r.Conns.Resolve(r.Rooms.Members(room)) {
		if cs.ID() == exclude {
			continue
		}
		r.send(cs, kind, frame)
	}
}

// broadcastGlobal fans out to every bound connection, skipping the
// excluded connection and every connection of the excluded user.
func (r *EventRouter) broadcastGlobal(excludeConn core.ConnID, excludeUser domain.UserID, kind protocol.Kind, event any) {
	frame, err := protocol.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Str("kind", string(kind)).Msg("marshal broadcast")
		return
	}
	for _, cs := range r.Conns.Snapshot() {
		if cs.ID() == excludeConn {
			continue
		}
		if excludeUser != "" && cs.User().ID == excludeUser {
			continue
		}
		r.send(cs, kind, frame)
	}
}

func (r *EventRouter) sendEvent(cs core.ConnSession, kind protocol.Kind, event any) {
	frame, err := protocol.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Str("kind", string(kind)).Msg("marshal event")
		return
	}
	r.send(cs, kind, frame)
}

func (r *EventRouter) send(cs core.ConnSession, kind protocol.Kind, frame core.Frame) {
	if err := cs.Signal().TrySend(frame); err != nil {
		r.Metrics.Dropped(string(kind), metrics.ReasonBackpressure)
		log.Warn().Err(err).Str("module", "app.router").Str("conn", string(cs.ID())).Str("kind", string(kind)).Msg("send dropped")
		return
	}
	r.Metrics.Delivered(string(kind))
}

func (r *EventRouter) decodeJoin(sess core.ConnSession, data []byte) (*plan, error) {
	room, err := decodeRoomID(data)
	if err != nil {
		return nil, err
	}
	r.Rooms.Join(room, sess.ID())
	return &plan{
		kind: protocol.KindConversationJoined,
		ack:  protocol.ConversationAck{Type: protocol.KindConversationJoined, ConversationID: room},
	}, nil
}

func (r *EventRouter) decodeLeave(sess core.ConnSession, data []byte) (*plan, error) {
	room, err := decodeRoomID(data)
	if err != nil {
		return nil, err
	}
	r.Rooms.Leave(room, sess.ID())
	return &plan{
		kind: protocol.KindConversationLeft,
		ack:  protocol.ConversationAck{Type: protocol.KindConversationLeft, ConversationID: room},
	}, nil
}

func (r *EventRouter) decodeSendMessage(sess core.ConnSession, data []byte) (*plan, error) {
	var p struct {
		ConversationID domain.RoomID   `json:"conversationId"`
		Message        json.RawMessage `json:"message"`
		RecipientID    domain.UserID   `json:"recipientId"`
	}
	if err := protocol.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if p.ConversationID == "" || len(p.Message) == 0 {
		return nil, fmt.Errorf("%w: missing conversationId or message", ErrMalformed)
	}
	uid := sess.User().ID
	if !r.Policy.AllowPost(uid, p.ConversationID) {
		return nil, fmt.Errorf("%w: posting to %s", ErrForbidden, p.ConversationID)
	}
	msg := protocol.NewMessage{
		Type:           protocol.KindNewMessage,
		ConversationID: p.ConversationID,
		SenderID:       uid,
		Message:        p.Message,
		Timestamp:      r.now(),
	}
	out := &plan{room: p.ConversationID, kind: protocol.KindNewMessage, event: msg}
	if p.RecipientID != "" && p.RecipientID != uid {
		notify := msg
		notify.Type = protocol.KindMessageNotification
		out.notifyUser = p.RecipientID
		out.notify = notify
	}
	return out, nil
}

func (r *EventRouter) decodeTyping(sess core.ConnSession, data []byte) (*plan, error) {
	var p struct {
		Type           protocol.Kind `json:"type"`
		ConversationID domain.RoomID `json:"conversationId"`
	}
	if err := protocol.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if p.ConversationID == "" {
		return nil, fmt.Errorf("%w: missing conversationId", ErrMalformed)
	}
	// The client-supplied userId field is ignored; the session identity
	// is authoritative.
	return &plan{
		room: p.ConversationID,
		kind: p.Type,
		event: protocol.Typing{
			Type:           p.Type,
			ConversationID: p.ConversationID,
			UserID:         sess.User().ID,
		},
	}, nil
}

func (r *EventRouter) decodeMarkRead(sess core.ConnSession, data []byte) (*plan, error) {
	var p struct {
		ConversationID domain.RoomID `json:"conversationId"`
		MessageIDs     []string      `json:"messageIds"`
	}
	if err := protocol.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if p.ConversationID == "" || len(p.MessageIDs) == 0 {
		return nil, fmt.Errorf("%w: missing conversationId or messageIds", ErrMalformed)
	}
	return &plan{
		room: p.ConversationID,
		kind: protocol.KindMarkRead,
		event: protocol.MarkRead{
			Type:           protocol.KindMarkRead,
			ConversationID: p.ConversationID,
			MessageIDs:     p.MessageIDs,
			ReadBy:         sess.User().ID,
			Timestamp:      r.now(),
		},
	}, nil
}

func (r *EventRouter) decodeDeleteMessage(sess core.ConnSession, data []byte) (*plan, error) {
	var p struct {
		ConversationID domain.RoomID `json:"conversationId"`
		MessageID      string        `json:"messageId"`
	}
	if err := protocol.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if p.ConversationID == "" || p.MessageID == "" {
		return nil, fmt.Errorf("%w: missing conversationId or messageId", ErrMalformed)
	}
	return &plan{
		room: p.ConversationID,
		kind: protocol.KindDeleteMessage,
		event: protocol.MessageDeleted{
			Type:           protocol.KindDeleteMessage,
			ConversationID: p.ConversationID,
			MessageID:      p.MessageID,
			DeletedBy:      sess.User().ID,
			Timestamp:      r.now(),
		},
	}, nil
}

func (r *EventRouter) decodeEditMessage(sess core.ConnSession, data []byte) (*plan, error) {
	var p struct {
		ConversationID domain.RoomID   `json:"conversationId"`
		MessageID      string          `json:"messageId"`
		NewContent     json.RawMessage `json:"newContent"`
	}
	if err := protocol.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if p.ConversationID == "" || p.MessageID == "" || len(p.NewContent) == 0 {
		return nil, fmt.Errorf("%w: missing conversationId, messageId or newContent", ErrMalformed)
	}
	return &plan{
		room: p.ConversationID,
		kind: protocol.KindEditMessage,
		event: protocol.MessageEdited{
			Type:           protocol.KindEditMessage,
			ConversationID: p.ConversationID,
			MessageID:      p.MessageID,
			NewContent:     p.NewContent,
			EditedBy:       sess.User().ID,
			Timestamp:      r.now(),
		},
	}, nil
}

func (r *EventRouter) decodeUpdateStatus(sess core.ConnSession, data []byte) (*plan, error) {
	var p struct {
		Status string `json:"status"`
	}
	if err := protocol.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := domain.ValidStatus(p.Status); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	ann := r.Presence.SetStatus(sess.User().ID, domain.Status(p.Status))
	if ann == nil {
		return nil, nil
	}
	return &plan{
		kind: protocol.KindUserStatusChanged,
		event: protocol.UserStatusChanged{
			Type:   protocol.KindUserStatusChanged,
			UserID: ann.UserID,
			Status: ann.Status,
		},
	}, nil
}

var callKinds = map[protocol.Kind]protocol.Kind{
	protocol.KindCallUser:     protocol.KindIncomingCall,
	protocol.KindAcceptCall:   protocol.KindCallAccepted,
	protocol.KindRejectCall:   protocol.KindCallRejected,
	protocol.KindEndCall:      protocol.KindCallEnded,
	protocol.KindICECandidate: protocol.KindICECandidate,
}

func (r *EventRouter) decodeCallSignal(sess core.ConnSession, data []byte) (*plan, error) {
	var p struct {
		Type         protocol.Kind   `json:"type"`
		TargetUserID domain.UserID   `json:"targetUserId"`
		SignalData   json.RawMessage `json:"signalData"`
		Candidate    json.RawMessage `json:"candidate"`
		CallType     string          `json:"callType"`
	}
	if err := protocol.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if p.TargetUserID == "" {
		return nil, fmt.Errorf("%w: missing targetUserId", ErrMalformed)
	}
	out := callKinds[p.Type]
	return &plan{
		target: p.TargetUserID,
		kind:   out,
		event: protocol.CallSignal{
			Type:       out,
			From:       sess.User().ID,
			SignalData: p.SignalData,
			Candidate:  p.Candidate,
			CallType:   p.CallType,
		},
	}, nil
}

func decodeRoomID(data []byte) (domain.RoomID, error) {
	var p struct {
		ConversationID domain.RoomID `json:"conversationId"`
	}
	if err := protocol.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if p.ConversationID == "" {
		return "", fmt.Errorf("%w: missing conversationId", ErrMalformed)
	}
	return p.ConversationID, nil
}
