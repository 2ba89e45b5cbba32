package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fenggwsx/roomlink/internal/auth"
	"github.com/fenggwsx/roomlink/internal/config"
	"github.com/fenggwsx/roomlink/internal/presence"
	"github.com/fenggwsx/roomlink/internal/protocol"
	"github.com/fenggwsx/roomlink/internal/storage"
)

// envelopeReader is the inbound half of a connection.
type envelopeReader interface {
	ReadEnvelope(ctx context.Context) (protocol.Envelope, error)
	SetReadDeadline(t time.Time) error
}

// App coordinates network listeners, session lifecycle, and request routing.
type App struct {
	cfg      config.ServerConfig
	log      *slog.Logger
	store    storage.Store
	hub      *connHub
	rooms    roomDirectory
	ctrl     *presence.Controller
	validate *validator.Validate

	listener  net.Listener
	http      *http.Server
	closeOnce sync.Once
}

// NewApp constructs a server instance using the provided dependencies.
func NewApp(cfg config.ServerConfig, log *slog.Logger, store storage.Store) *App {
	hub := newConnHub()
	rooms := roomDirectory{store: store}
	return &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		hub:      hub,
		rooms:    rooms,
		ctrl:     presence.NewController(log, hub, auth.NewVerifier(cfg.JWT), rooms, messageLog{store: store}),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Controller exposes the presence controller driven by this server.
func (a *App) Controller() *presence.Controller {
	return a.ctrl
}

// Run starts accepting connections until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	if err := a.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	listener, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	a.listener = listener
	a.log.Info("tcp listener started", "addr", listener.Addr().String())

	errCh := make(chan error, 2)

	if a.cfg.WebSocketAddr != "" {
		a.http = &http.Server{
			Addr:              a.cfg.WebSocketAddr,
			Handler:           a.websocketHandler(ctx),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.log.Info("websocket listener started", "addr", a.cfg.WebSocketAddr)
			if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("websocket: %w", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		a.shutdown()
	}()

	go func() {
		for {
			conn, err := a.listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					errCh <- nil
					return
				}
				errCh <- err
				return
			}
			go a.handleConnection(ctx, conn)
		}
	}()

	err = <-errCh
	a.shutdown()
	return err
}

func (a *App) shutdown() {
	a.closeOnce.Do(func() {
		_ = a.listener.Close()
		if a.http != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = a.http.Shutdown(shutdownCtx)
		}
	})
}

func (a *App) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stream := &tcpStream{
		conn:    conn,
		encoder: protocol.NewEncoder(conn),
		decoder: protocol.NewDecoder(conn, a.cfg.MaxFrameBytes),
	}
	a.serve(ctx, stream, stream, conn.RemoteAddr().String())
}

// serve runs one connection from accept to disconnect. Requests from a single
// connection are handled in arrival order.
func (a *App) serve(parentCtx context.Context, reader envelopeReader, writer envelopeWriter, remote string) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	session := newClientSession(remote, writer, a.cfg.SendBuffer)
	a.hub.add(session)

	go func() {
		if err := session.writeLoop(ctx, a.cfg.WriteTimeout); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("write loop stopped", "conn", session.id, "error", err)
		}
		cancel()
		// Unblock the read loop.
		_ = reader.SetReadDeadline(time.Now())
	}()

	defer func() {
		rooms := a.ctrl.Disconnect(context.WithoutCancel(ctx), session.id)
		a.hub.remove(session.id)
		session.close()
		a.log.Info("connection closed", "conn", session.id, "remote", remote, "rooms", len(rooms))
	}()

	if err := a.ctrl.Connect(ctx, session.id); err != nil {
		a.log.Error("connect failed", "conn", session.id, "error", err)
		return
	}
	a.log.Info("connection opened", "conn", session.id, "remote", remote)

	for ctx.Err() == nil {
		if a.cfg.ReadTimeout > 0 {
			if err := reader.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout)); err != nil {
				a.log.Warn("set read deadline", "conn", session.id, "error", err)
				return
			}
		}
		env, err := reader.ReadEnvelope(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				a.log.Warn("read failed", "conn", session.id, "error", err)
			}
			return
		}
		a.route(ctx, session, env)
	}
}

func (a *App) route(ctx context.Context, session *clientSession, env protocol.Envelope) {
	switch env.Type {
	case protocol.MessageTypeAuthRequest:
		a.handleAuth(ctx, session, env)
	case protocol.MessageTypeCommand:
		a.handleCommand(ctx, session, env)
	case protocol.MessageTypeEvent:
		a.handleEvent(ctx, session, env)
	default:
		a.log.Debug("unhandled envelope type", "conn", session.id, "type", env.Type)
		a.sendAck(ctx, session, env.ID, ackStatusError, "unsupported message type")
	}
}

// tcpStream adapts a framed TCP connection to envelopeReader and envelopeWriter.
type tcpStream struct {
	conn    net.Conn
	encoder *protocol.Encoder
	decoder *protocol.Decoder
}

func (s *tcpStream) ReadEnvelope(ctx context.Context) (protocol.Envelope, error) {
	return s.decoder.Decode(ctx)
}

func (s *tcpStream) WriteEnvelope(ctx context.Context, env protocol.Envelope) error {
	return s.encoder.Encode(ctx, env)
}

func (s *tcpStream) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *tcpStream) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }
