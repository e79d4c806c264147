package gate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/voicegate-labs/voicegate/internal/auth"
	"github.com/voicegate-labs/voicegate/internal/bus"
	"github.com/voicegate-labs/voicegate/internal/protocol"
	"github.com/voicegate-labs/voicegate/internal/quota"
)

// Service exposes the gate over NATS request/reply.
type Service struct {
	gate   *Gate
	bus    *bus.Client
	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewService(parent context.Context, g *Gate, busClient *bus.Client, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		gate:   g,
		bus:    busClient,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "gate-service")),
	}
}

func (s *Service) Start() error {
	handlers := map[string]nats.MsgHandler{
		protocol.SubjectUserGet:     s.handleUserGet,
		protocol.SubjectSynthWAV:    s.handleSynthWAV,
		protocol.SubjectSynthOpus:   s.handleSynthOpus,
		protocol.SubjectTokenRotate: s.handleTokenRotate,
	}
	for subject, handler := range handlers {
		sub, err := s.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			s.drain()
			return err
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.drain()
	s.wg.Wait()
}

func (s *Service) drain() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool { return len(s.subs) == 4 }

func (s *Service) handleUserGet(msg *nats.Msg) {
	s.serve(msg, func(ctx context.Context) any {
		var req protocol.UserRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return protocol.UserResponse{Error: badRequest(err)}
		}
		user, err := s.gate.FetchUser(ctx, req.UserID, req.Token)
		if err != nil {
			return protocol.UserResponse{Error: s.errorInfo(err)}
		}
		return protocol.UserResponse{User: &protocol.UserRecord{
			ID:             user.ID,
			AccountStatus:  user.AccountStatus,
			CharacterCount: user.CharacterCount,
			CharacterLimit: user.CharacterLimit,
		}}
	})
}

func (s *Service) handleSynthWAV(msg *nats.Msg) {
	s.serve(msg, func(ctx context.Context) any {
		var req protocol.SynthRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return protocol.SynthWAVResponse{Error: badRequest(err)}
		}
		audio, err := s.gate.SynthesizeWAV(ctx, req.UserID, req.Token, req.Text)
		if err != nil {
			return protocol.SynthWAVResponse{Error: s.errorInfo(err)}
		}
		return protocol.SynthWAVResponse{Audio: audio}
	})
}

func (s *Service) handleSynthOpus(msg *nats.Msg) {
	s.serve(msg, func(ctx context.Context) any {
		var req protocol.SynthRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return protocol.SynthOpusResponse{Error: badRequest(err)}
		}
		frames, err := s.gate.SynthesizeOpus(ctx, req.UserID, req.Token, req.Text)
		if err != nil {
			return protocol.SynthOpusResponse{Error: s.errorInfo(err)}
		}
		return protocol.SynthOpusResponse{Frames: frames}
	})
}

func (s *Service) handleTokenRotate(msg *nats.Msg) {
	s.serve(msg, func(ctx context.Context) any {
		var req protocol.RotateRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return protocol.RotateResponse{Error: badRequest(err)}
		}
		token, err := s.gate.RotateToken(ctx, req.UserID, req.Token)
		if err != nil {
			return protocol.RotateResponse{Error: s.errorInfo(err)}
		}
		return protocol.RotateResponse{Token: token}
	})
}

// serve runs each request on its own goroutine so a synthesis in flight never
// blocks the subscription callback.
func (s *Service) serve(msg *nats.Msg, handle func(ctx context.Context) any) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		resp := handle(s.ctx)
		data, err := json.Marshal(resp)
		if err != nil {
			s.logger.Warn("failed to marshal response", slogError(err))
			return
		}
		if err := msg.Respond(data); err != nil {
			s.logger.Warn("failed to respond", slogError(err))
		}
	}()
}

// errorInfo maps pipeline errors to client-facing codes. Engine and store
// failures are logged in full here and surfaced only as an internal error.
func (s *Service) errorInfo(err error) *protocol.ErrorInfo {
	switch {
	case errors.Is(err, ErrTextTooLong):
		return &protocol.ErrorInfo{Code: protocol.CodeInvalidRequest, Message: err.Error()}
	case errors.Is(err, ErrUnauthorized):
		return &protocol.ErrorInfo{Code: protocol.CodeUnauthorized, Message: "invalid token"}
	case errors.Is(err, auth.ErrNoToken), errors.Is(err, quota.ErrNoUser):
		return &protocol.ErrorInfo{Code: protocol.CodeNotFound, Message: "user not found"}
	case errors.Is(err, quota.ErrQuotaExceeded):
		return &protocol.ErrorInfo{Code: protocol.CodeQuotaExceeded, Message: "account quota exceeded"}
	default:
		s.logger.Error("request failed", slogError(err))
		return &protocol.ErrorInfo{Code: protocol.CodeInternal, Message: "unexpected error"}
	}
}

func badRequest(err error) *protocol.ErrorInfo {
	return &protocol.ErrorInfo{Code: protocol.CodeInvalidRequest, Message: "malformed request: " + err.Error()}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
