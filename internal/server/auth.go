package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fenggwsx/roomlink/internal/auth"
	"github.com/fenggwsx/roomlink/internal/presence"
	"github.com/fenggwsx/roomlink/internal/protocol"
	"github.com/fenggwsx/roomlink/internal/storage"
)

var (
	errUserExists         = errors.New("user already exists")
	errInvalidCredentials = errors.New("invalid credentials")
	errAlreadyAuthorized  = errors.New("connection already authenticated")
)

func (a *App) handleAuth(ctx context.Context, session *clientSession, env protocol.Envelope) {
	req, err := decodeRequest[protocol.AuthRequest](a.validate, env.Payload)
	if err != nil {
		a.ackError(ctx, session, env.ID, err)
		return
	}
	if a.ctrl.IsAuthenticated(session.id) {
		a.reportAuthError(ctx, session, env.ID, errAlreadyAuthorized)
		return
	}

	username := strings.TrimSpace(req.Username)
	var user *storage.User
	switch req.Action {
	case "register":
		user, err = a.createUser(ctx, username, req.Password)
	default:
		user, err = a.authenticateUser(ctx, username, req.Password)
	}
	if err != nil {
		a.log.Info("auth failed", "action", req.Action, "username", username, "remote", session.remote, "error", err)
		a.reportAuthError(ctx, session, env.ID, err)
		return
	}
	a.log.Info("auth success", "action", req.Action, "username", user.Username, "user_id", user.ID, "remote", session.remote)
	a.issueToken(ctx, session, env.ID, user)
}

// issueToken signs a token for user, binds it to the connection and returns
// it to the client.
func (a *App) issueToken(ctx context.Context, session *clientSession, referenceID string, user *storage.User) {
	token, expiresAt, err := auth.NewToken(a.cfg.JWT, user.ID, user.Username, user.IsAdmin)
	if err != nil {
		a.log.Error("token issue failed", "user_id", user.ID, "error", err)
		a.sendAck(ctx, session, referenceID, ackStatusError, "token generation failed")
		return
	}
	if _, err := a.ctrl.Authenticate(ctx, session.id, token); err != nil {
		a.ackError(ctx, session, referenceID, err)
		return
	}

	a.sendAck(ctx, session, referenceID, ackStatusOK, "")
	a.send(ctx, session, protocol.Envelope{
		ID:        uuid.NewString(),
		Type:      protocol.MessageTypeAuthResponse,
		Timestamp: time.Now(),
		Payload: protocol.AuthResponse{
			Token:     token,
			ExpiresAt: expiresAt.Unix(),
			UserID:    user.ID,
			Username:  user.Username,
		},
	})
}

// identify returns the session bound to the connection, authenticating it
// first with the envelope token when it is still anonymous.
func (a *App) identify(ctx context.Context, session *clientSession, env protocol.Envelope) (presence.Session, error) {
	if !a.ctrl.IsAuthenticated(session.id) && env.Token != "" {
		if _, err := a.ctrl.Authenticate(ctx, session.id, env.Token); err != nil {
			return presence.Session{}, err
		}
	}
	return a.ctrl.Require(ctx, session.id)
}

func (a *App) createUser(ctx context.Context, username, password string) (*storage.User, error) {
	if _, err := a.store.GetUserByUsername(ctx, username); err == nil {
		return nil, errUserExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &storage.User{
		Username:  username,
		Password:  hashed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, errUserExists
		}
		return nil, err
	}
	return user, nil
}

func (a *App) authenticateUser(ctx context.Context, username, password string) (*storage.User, error) {
	user, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, err
	}
	if err := auth.ComparePassword(user.Password, password); err != nil {
		return nil, errInvalidCredentials
	}
	return user, nil
}

func (a *App) reportAuthError(ctx context.Context, session *clientSession, referenceID string, err error) {
	reason := "authentication failed"
	switch {
	case errors.Is(err, errUserExists):
		reason = "username already exists"
	case errors.Is(err, errInvalidCredentials):
		reason = "invalid credentials"
	case errors.Is(err, errAlreadyAuthorized):
		reason = "already authenticated"
	}
	a.sendAck(ctx, session, referenceID, ackStatusError, reason)
}
