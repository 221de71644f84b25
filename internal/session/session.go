package session

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/manpreetbhatti/inkroom/internal/document"
	"github.com/manpreetbhatti/inkroom/internal/protocol"
)

const (
	DefaultReconnectDelay = 3 * time.Second

	writeWait   = 10 * time.Second
	httpTimeout = 10 * time.Second
)

var ErrClosed = errors.New("session closed")

type Config struct {
	// Base URL of the HTTP API, e.g. http://localhost:8080
	HTTPBase string

	// Websocket endpoint, e.g. ws://localhost:8080/ws
	WSURL string

	Token          string
	Slug           string
	ReconnectDelay time.Duration
	Dark           bool
}

// Session drives one open room view over the network. Pointer input,
// remote events and reconnects are all applied on the goroutine running
// Run, so the view never sees two of them interleaved.
type Session struct {
	cfg    Config
	view   *View
	obs    Observers
	http   *http.Client
	dialer *websocket.Dialer

	actions chan func(*View)
	done    chan struct{}
	once    sync.Once
}

type Option func(*Session)

func WithObservers(obs Observers) Option {
	return func(s *Session) { s.obs = obs }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.http = c }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

func New(cfg Config, opts ...Option) *Session {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	s := &Session{
		cfg:     cfg,
		http:    &http.Client{Timeout: httpTimeout},
		dialer:  websocket.DefaultDialer,
		actions: make(chan func(*View), 64),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.view = NewView("", nil, nil)
	s.view.SetDarkMode(cfg.Dark)
	s.view.SetObservers(s.obs)
	return s
}

// discard drops outbound events while no socket is open.
type discard struct{}

func (discard) Send(*protocol.Message) {}

type connOutbox struct {
	conn *websocket.Conn
}

func (o connOutbox) Send(m *protocol.Message) {
	o.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := o.conn.WriteMessage(websocket.TextMessage, protocol.Encode(m)); err != nil {
		log.Printf("⚠️ Failed to send %s: %v", m.Type, err)
	}
}

// Run connects and serves the view until ctx is cancelled, reconnecting
// after ReconnectDelay whenever the socket or the HTTP API fails.
func (s *Session) Run(ctx context.Context) error {
	defer s.once.Do(func() { close(s.done) })

	for {
		err := s.connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("🔌 Room %s disconnected: %v (retrying in %v)", s.cfg.Slug, err, s.cfg.ReconnectDelay)

		if err := s.idle(ctx, s.cfg.ReconnectDelay); err != nil {
			return err
		}
	}
}

// idle keeps serving local input while offline. Nothing is queued for the
// next connection.
func (s *Session) idle(ctx context.Context, d time.Duration) error {
	s.view.out = discard{}
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case fn := <-s.actions:
			fn(s.view)
		}
	}
}

func (s *Session) dialURL() (string, error) {
	u, err := url.Parse(s.cfg.WSURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", s.cfg.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dialed is the outcome of resolving, hydrating and dialing a room.
type dialed struct {
	roomID   protocol.RoomID
	elements []document.Element
	conn     *websocket.Conn
	err      error
}

func (s *Session) dial(ctx context.Context) dialed {
	roomID, err := s.resolveRoom(ctx)
	if err != nil {
		return dialed{err: err}
	}
	elements, err := s.fetchDrawings(ctx, roomID)
	if err != nil {
		return dialed{err: err}
	}

	target, err := s.dialURL()
	if err != nil {
		return dialed{err: err}
	}
	conn, _, err := s.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return dialed{err: err}
	}
	return dialed{roomID: roomID, elements: elements, conn: conn}
}

// await runs dial off the loop and keeps serving local input until it
// finishes.
func (s *Session) await(ctx context.Context) dialed {
	ready := make(chan dialed, 1)
	go func() { ready <- s.dial(ctx) }()

	for {
		select {
		case d := <-ready:
			return d
		case fn := <-s.actions:
			fn(s.view)
		}
	}
}

func (s *Session) connect(ctx context.Context) error {
	d := s.await(ctx)
	if d.err != nil {
		return d.err
	}
	conn, roomID, elements := d.conn, d.roomID, d.elements
	defer conn.Close()

	s.view.Hydrate(roomID, elements)
	s.view.out = connOutbox{conn: conn}
	s.view.send(&protocol.Message{Type: protocol.TypeJoinRoom, RoomID: roomID})
	log.Printf("🎨 Joined room %s (%s) with %d elements", s.cfg.Slug, roomID, len(elements))

	incoming := make(chan *protocol.Message, 64)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go readLoop(conn, incoming, readErr, stop)

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return ctx.Err()
		case fn := <-s.actions:
			fn(s.view)
		case m := <-incoming:
			s.view.ApplyRemote(m)
		case err := <-readErr:
			s.drain(incoming)
			s.view.out = discard{}
			return err
		}
	}
}

// drain applies what was read before the socket failed.
func (s *Session) drain(incoming <-chan *protocol.Message) {
	for {
		select {
		case m := <-incoming:
			s.view.ApplyRemote(m)
		default:
			return
		}
	}
}

func readLoop(conn *websocket.Conn, incoming chan<- *protocol.Message, readErr chan<- error, stop <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		m, err := protocol.Decode(data)
		if err != nil {
			log.Printf("⚠️ Ignoring undecodable frame: %v", err)
			continue
		}
		select {
		case incoming <- m:
		case <-stop:
			return
		}
	}
}

// do runs fn on the session loop and waits for it to finish. Calls made
// before Run starts wait for it.
func (s *Session) do(fn func(*View)) error {
	finished := make(chan struct{})
	select {
	case s.actions <- func(v *View) { fn(v); close(finished) }:
	case <-s.done:
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) PointerDown(x, y float64) error {
	return s.do(func(v *View) { v.PointerDown(x, y) })
}

func (s *Session) PointerMove(x, y float64) error {
	return s.do(func(v *View) { v.PointerMove(x, y) })
}

func (s *Session) PointerUp(x, y float64) error {
	return s.do(func(v *View) { v.PointerUp(x, y) })
}

func (s *Session) PointerLeave() error {
	return s.do(func(v *View) { v.PointerLeave() })
}

func (s *Session) SetTool(t Tool) error {
	return s.do(func(v *View) { v.SetTool(t) })
}

func (s *Session) SetDarkMode(dark bool) error {
	return s.do(func(v *View) { v.SetDarkMode(dark) })
}

func (s *Session) EnterText(x, y float64, text string) error {
	return s.do(func(v *View) { v.EnterText(x, y, text) })
}

func (s *Session) EditText(text string) error {
	return s.do(func(v *View) { v.EditText(text) })
}

func (s *Session) Undo() error {
	return s.do(func(v *View) { v.Undo() })
}

func (s *Session) Redo() error {
	return s.do(func(v *View) { v.Redo() })
}

func (s *Session) Clear() error {
	return s.do(func(v *View) { v.Clear() })
}

func (s *Session) SendChat(text string) error {
	return s.do(func(v *View) { v.SendChat(text) })
}

// Snapshot returns a deep copy of the current elements.
func (s *Session) Snapshot() ([]document.Element, error) {
	var elements []document.Element
	err := s.do(func(v *View) { elements = v.Elements() })
	return elements, err
}
