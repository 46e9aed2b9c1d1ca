package consult

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"eyecare-realtime/internal/client/socket"
	"eyecare-realtime/internal/models"

	"github.com/goccy/go-json"
)

type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateWaiting    State = "waiting"
	StateConnected  State = "connected"
	StateEnded      State = "ended"
	StateDenied     State = "denied"
	StateError      State = "error"
)

func (s State) Terminal() bool {
	return s == StateEnded || s == StateDenied || s == StateError
}

var (
	ErrAccessDenied     = errors.New("consultation access denied")
	ErrMediaUnavailable = errors.New("camera or microphone unavailable")
	ErrAlreadyStarted   = errors.New("session already started")
	ErrEnded            = errors.New("session ended")
	ErrNotSignal        = errors.New("not a signaling event")
)

type API interface {
	ConsultationAccess(ctx context.Context, roomID string) (*models.ConsultationAccess, error)
}

type Socket interface {
	On(eventType string, handler socket.Handler) (off func())
	Emit(eventType string, data interface{}) error
}

// MediaStream is the local audio and video.
type MediaStream interface {
	Stop()
}

type MediaSource interface {
	Acquire(ctx context.Context) (MediaStream, error)
}

// Call is an incoming call from the remote peer.
type Call interface {
	RemotePeerID() string
	Answer(local MediaStream) error
	Close()
}

// PeerConnector negotiates the media connection between the two
// participants. Call must not block until media flows.
type PeerConnector interface {
	Open(ctx context.Context) (peerID string, err error)
	Call(ctx context.Context, remotePeerID string, local MediaStream) error
	OnCall(handler func(Call))
	Destroy()
}

// SignalReceiver is implemented by connectors that negotiate through the
// socket instead of their own signaling server.
type SignalReceiver interface {
	HandleSignal(eventType string, payload json.RawMessage)
}

type Options struct {
	API    API
	Socket Socket
	Media  MediaSource
	Peer   PeerConnector

	OnStateChange func(State)
}

// Session drives one participant through a consultation room.
type Session struct {
	roomID string
	opts   Options

	mu           sync.Mutex
	state        State
	access       *models.ConsultationAccess
	err          error
	localPeerID  string
	remotePeerID string
	stream       MediaStream
	offs         []func()
	joined       bool
	torn         bool
	ctx          context.Context
}

func NewSession(roomID string, opts Options) *Session {
	if opts.OnStateChange == nil {
		opts.OnStateChange = func(State) {}
	}
	return &Session{roomID: roomID, opts: opts, state: StateIdle}
}

// Start checks access, acquires media, opens the peer connection and joins
// the room. No media is touched when access is denied. An End while Start
// is waiting releases whatever Start acquired afterwards and Start returns
// ErrEnded.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.ctx = ctx
	s.mu.Unlock()
	s.setState(StateValidating)

	access, err := s.opts.API.ConsultationAccess(ctx, s.roomID)
	if !s.commit(func() { s.access = access }) {
		return ErrEnded
	}
	if err != nil {
		return s.fail(fmt.Errorf("unable to verify access: %w", err))
	}

	if !access.Allowed {
		slog.Info("[CONSULT] Access denied", "room", s.roomID, "reason", access.Reason)
		s.mu.Lock()
		s.err = ErrAccessDenied
		s.mu.Unlock()
		s.setState(StateDenied)
		return ErrAccessDenied
	}

	stream, err := s.opts.Media.Acquire(ctx)
	if err == nil && !s.commit(func() { s.stream = stream }) {
		stream.Stop()
		return ErrEnded
	}
	if s.ended() {
		return ErrEnded
	}
	if err != nil {
		return s.fail(fmt.Errorf("%w: %v", ErrMediaUnavailable, err))
	}

	peerID, err := s.opts.Peer.Open(ctx)
	if err == nil && !s.commit(func() { s.localPeerID = peerID }) {
		s.opts.Peer.Destroy()
		return ErrEnded
	}
	if s.ended() {
		return ErrEnded
	}
	if err != nil {
		return s.fail(fmt.Errorf("unable to open peer connection: %w", err))
	}

	s.opts.Peer.OnCall(s.answer)
	if !s.attach() {
		return ErrEnded
	}

	s.setState(StateWaiting)

	err = s.opts.Socket.Emit(models.EventConsultJoin, models.ConsultJoin{RoomID: s.roomID, PeerID: peerID})
	if err != nil {
		if s.ended() {
			return ErrEnded
		}
		return s.fail(fmt.Errorf("unable to join consultation: %w", err))
	}

	// End may have run during the emit, before it could know to leave.
	if !s.commit(func() { s.joined = true }) {
		s.sendLeave()
		return ErrEnded
	}

	slog.Info("[CONSULT] Joining room", "room", s.roomID, "peer", peerID)
	return nil
}

// commit applies fn under the lock unless the session was torn down.
func (s *Session) commit(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.torn {
		return false
	}
	fn()
	return true
}

func (s *Session) ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.torn
}

// attach subscribes to the room's events. It reports false, leaving
// nothing attached, when the session was torn down meanwhile.
func (s *Session) attach() bool {
	on := func(eventType string, handler func(models.Event)) func() {
		return s.opts.Socket.On(eventType, func(event models.Event) {
			if s.current().Terminal() {
				return
			}
			handler(event)
		})
	}

	offs := []func(){
		on(models.EventConsultWaiting, s.handleWaiting),
		on(models.EventConsultPeerReady, s.handlePeerReady),
		on(models.EventConsultPeerJoined, s.handlePeerJoined),
		on(models.EventConsultPeerLeft, s.handlePeerLeft),
		on(models.EventConsultError, s.handleError),
		on(models.EventConsultPeerOffer, s.handleSignal),
		on(models.EventConsultICE, s.handleSignal),
	}

	if !s.commit(func() { s.offs = offs }) {
		for _, off := range offs {
			off()
		}
		return false
	}
	return true
}

func (s *Session) decodePeer(event models.Event) (models.ConsultPeer, bool) {
	var peer models.ConsultPeer
	if err := event.Decode(&peer); err != nil || peer.RoomID != s.roomID {
		return peer, false
	}
	return peer, true
}

func (s *Session) handleWaiting(event models.Event) {
	var ref models.ConsultRoomRef
	if err := event.Decode(&ref); err != nil || ref.RoomID != s.roomID {
		return
	}
	s.setState(StateWaiting)
}

// handlePeerReady places the call: the remote peer was already waiting.
func (s *Session) handlePeerReady(event models.Event) {
	peer, ok := s.decodePeer(event)
	if !ok || peer.PeerID == "" {
		return
	}

	s.mu.Lock()
	s.remotePeerID = peer.PeerID
	stream := s.stream
	ctx := s.ctx
	s.mu.Unlock()

	slog.Info("[CONSULT] Calling peer", "room", s.roomID, "peer", peer.PeerID)
	if err := s.opts.Peer.Call(ctx, peer.PeerID, stream); err != nil {
		s.fail(fmt.Errorf("unable to call peer: %w", err))
		return
	}
	s.setState(StateConnected)
}

// handlePeerJoined records the newcomer, who is expected to call us.
func (s *Session) handlePeerJoined(event models.Event) {
	peer, ok := s.decodePeer(event)
	if !ok {
		return
	}

	s.mu.Lock()
	s.remotePeerID = peer.PeerID
	s.mu.Unlock()

	slog.Info("[CONSULT] Peer joined, awaiting call", "room", s.roomID, "peer", peer.PeerID)
}

func (s *Session) handlePeerLeft(event models.Event) {
	if _, ok := s.decodePeer(event); !ok {
		return
	}

	s.mu.Lock()
	s.remotePeerID = ""
	s.mu.Unlock()

	slog.Info("[CONSULT] Peer left", "room", s.roomID)
	s.setState(StateWaiting)
}

func (s *Session) handleError(event models.Event) {
	var data models.ErrorData
	if err := event.Decode(&data); err != nil {
		return
	}
	if data.RoomID != "" && data.RoomID != s.roomID {
		return
	}
	s.fail(errors.New(data.Message))
}

func (s *Session) handleSignal(event models.Event) {
	receiver, ok := s.opts.Peer.(SignalReceiver)
	if !ok {
		return
	}

	var signal struct {
		RoomID  string          `json:"roomId"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := event.Decode(&signal); err != nil || signal.RoomID != s.roomID {
		return
	}
	receiver.HandleSignal(event.Type, signal.Payload)
}

// answer accepts an incoming call with the local stream.
func (s *Session) answer(call Call) {
	s.mu.Lock()
	stream := s.stream
	terminal := s.state.Terminal()
	s.mu.Unlock()

	if terminal || stream == nil {
		call.Close()
		return
	}

	if err := call.Answer(stream); err != nil {
		s.fail(fmt.Errorf("unable to answer call: %w", err))
		return
	}

	s.mu.Lock()
	s.remotePeerID = call.RemotePeerID()
	s.mu.Unlock()

	slog.Info("[CONSULT] Answered call", "room", s.roomID, "peer", call.RemotePeerID())
	s.setState(StateConnected)
}

// Signal sends negotiation data to the remote peer through the room.
func (s *Session) Signal(eventType string, payload interface{}) error {
	if eventType != models.EventConsultPeerOffer && eventType != models.EventConsultICE {
		return ErrNotSignal
	}
	return s.opts.Socket.Emit(eventType, models.ConsultSignal{RoomID: s.roomID, Payload: payload})
}

// End leaves the room and releases media and the peer connection. It is
// safe to call more than once.
func (s *Session) End() {
	s.teardown()

	s.mu.Lock()
	prev := s.state
	if prev != StateDenied && prev != StateError {
		s.state = StateEnded
	}
	changed := s.state != prev
	s.mu.Unlock()

	if changed {
		s.opts.OnStateChange(StateEnded)
	}
}

func (s *Session) fail(err error) error {
	slog.Error("[CONSULT] Session failed", "room", s.roomID, "error", err)

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	s.setState(StateError)
	s.teardown()
	return err
}

func (s *Session) teardown() {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return
	}
	s.torn = true
	offs := s.offs
	s.offs = nil
	joined := s.joined
	s.joined = false
	stream := s.stream
	s.stream = nil
	opened := s.localPeerID != ""
	s.mu.Unlock()

	if joined {
		s.sendLeave()
	}
	for _, off := range offs {
		off()
	}
	if stream != nil {
		stream.Stop()
	}
	if opened {
		s.opts.Peer.Destroy()
	}
}

func (s *Session) sendLeave() {
	if err := s.opts.Socket.Emit(models.EventConsultLeave, models.ConsultRoomRef{RoomID: s.roomID}); err != nil {
		slog.Warn("[CONSULT] Failed to send leave", "room", s.roomID, "error", err)
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	if s.state == state || s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	s.opts.OnStateChange(state)
}

func (s *Session) current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) State() State { return s.current() }

// Access is the result of the entry check, including the booking context
// of a denial.
func (s *Session) Access() *models.ConsultationAccess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) PeerIDs() (local, remote string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localPeerID, s.remotePeerID
}
