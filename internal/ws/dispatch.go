package ws

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/pliu/cipherchat/internal/chat"
	apperr "github.com/pliu/cipherchat/internal/errors"
	"github.com/pliu/cipherchat/internal/events"
	"github.com/pliu/cipherchat/internal/group"
	"github.com/pliu/cipherchat/internal/logging"
)

// HandlerFunc runs one inbound event for the authenticated userID.
type HandlerFunc func(ctx context.Context, userID string, data json.RawMessage) error

// Dispatcher routes inbound envelopes by event name. A failing handler gets
// an error event sent back to the calling socket only.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	log      *zap.Logger
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		log:      logging.OrNop(log).Named("dispatch"),
	}
}

func (d *Dispatcher) Handle(event string, h HandlerFunc) {
	d.handlers[event] = h
}

func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, raw []byte) {
	var env events.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.reply(c, "", apperr.Validation("malformed event"))
		return
	}
	h, ok := d.handlers[env.Event]
	if !ok {
		d.reply(c, env.Event, apperr.Validation("unknown event"))
		return
	}
	if err := h(ctx, c.userID, env.Data); err != nil {
		d.reply(c, env.Event, err)
	}
}

func (d *Dispatcher) reply(c *Client, event string, err error) {
	log := d.log.With(zap.String("user_id", c.userID), zap.String("event", event), zap.Error(err))
	code := apperr.CodeOf(err)
	switch code {
	case apperr.CodeKey, apperr.CodeCrypto, apperr.CodeInternal, apperr.CodeUnknown:
		log.Error("event failed")
	default:
		log.Warn("event rejected")
	}

	msg, encErr := encode(events.Error, events.ErrorPayload{
		Event:   event,
		Code:    string(code),
		Message: apperr.MessageOf(err),
	})
	if encErr != nil {
		return
	}
	c.enqueue(msg)
}

// Bind decodes the event payload into T before calling fn.
func Bind[T any](fn func(ctx context.Context, userID string, req T) error) HandlerFunc {
	return func(ctx context.Context, userID string, data json.RawMessage) error {
		var req T
		if len(data) > 0 {
			if err := json.Unmarshal(data, &req); err != nil {
				return apperr.Validation("malformed payload")
			}
		}
		return fn(ctx, userID, req)
	}
}

// RegisterEvents binds every inbound socket event to the chat and group
// services.
func RegisterEvents(d *Dispatcher, cs *chat.Service, gs *group.Service) {
	d.Handle(events.SendMessage, Bind(func(ctx context.Context, userID string, req events.SendMessageRequest) error {
		_, err := cs.SendDirect(ctx, userID, req)
		return err
	}))
	d.Handle(events.SendConnection, Bind(func(ctx context.Context, userID string, req events.ConnectionRequest) error {
		_, err := cs.Connect(ctx, userID, req.Recipient)
		return err
	}))
	d.Handle(events.RemoveFriend, Bind(func(ctx context.Context, userID string, req events.ConnectionRequest) error {
		_, err := cs.RemoveFriend(ctx, userID, req.Recipient)
		return err
	}))

	d.Handle(events.SendMessageGroup, Bind(func(ctx context.Context, userID string, req events.SendGroupMessageRequest) error {
		_, err := gs.SendGroup(ctx, userID, req)
		return err
	}))
	d.Handle(events.AddMemberToGroup, Bind(func(ctx context.Context, userID string, req events.GroupMemberRequest) error {
		_, err := gs.AddMember(ctx, userID, req)
		return err
	}))
	d.Handle(events.RemoveMember, Bind(func(ctx context.Context, userID string, req events.GroupMemberRequest) error {
		_, err := gs.RemoveMember(ctx, userID, req)
		return err
	}))
	d.Handle(events.ChangeRole, Bind(func(ctx context.Context, userID string, req events.GroupMemberRequest) error {
		_, err := gs.ChangeRole(ctx, userID, req)
		return err
	}))
	d.Handle(events.LeaveGroup, Bind(func(ctx context.Context, userID string, req events.LeaveGroupRequest) error {
		_, err := gs.Leave(ctx, userID, req.GroupID)
		return err
	}))
}
