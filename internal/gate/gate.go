package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/voicegate-labs/voicegate/internal/config"
	"github.com/voicegate-labs/voicegate/internal/engine"
	"github.com/voicegate-labs/voicegate/internal/quota"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrTextTooLong rejects input exceeding the configured character bound.
	ErrTextTooLong = errors.New("text too long")
	// ErrUnauthorized rejects a token that does not match the registered one.
	ErrUnauthorized = errors.New("invalid token")
)

// TokenStore is the slice of the auth component the gate depends on.
type TokenStore interface {
	Verify(ctx context.Context, userID int64, token string) (bool, error)
	Rotate(ctx context.Context, userID int64) (string, error)
}

// Ledger is the slice of the quota component the gate depends on.
type Ledger interface {
	GetOrCreate(ctx context.Context, id int64) (quota.User, error)
	UseCapacity(ctx context.Context, id, length int64) error
}

// FrameEncoder compresses PCM into ordered frames. A fresh instance is built
// per request because it carries cross-frame codec state.
type FrameEncoder interface {
	Encode(samples []int16) ([][]byte, error)
}

// Gate runs every request through the same pipeline: validate, authenticate,
// resolve the user, consume quota, then synthesize. Quota is consumed before
// any engine work and is not refunded when synthesis fails afterwards; a
// failed synthesis still counts against the caller.
type Gate struct {
	tokens     TokenStore
	ledger     Ledger
	engine     engine.Engine
	newEncoder func() (FrameEncoder, error)

	maxTextChars int
	timeout      time.Duration
	sem          chan struct{}
	log          *slog.Logger

	requests   metric.Int64Counter
	rejections metric.Int64Counter
	characters metric.Int64Counter
}

func New(cfg config.Config, tokens TokenStore, ledger Ledger, eng engine.Engine, newEncoder func() (FrameEncoder, error), log *slog.Logger) *Gate {
	meter := otel.Meter("voicegate/gate")
	requests, _ := meter.Int64Counter("voicegate.requests",
		metric.WithDescription("Requests handled by the gate"))
	rejections, _ := meter.Int64Counter("voicegate.rejections",
		metric.WithDescription("Requests rejected before completion"))
	characters, _ := meter.Int64Counter("voicegate.characters_synthesized",
		metric.WithDescription("Characters of text accepted for synthesis"))

	return &Gate{
		tokens:       tokens,
		ledger:       ledger,
		engine:       eng,
		newEncoder:   newEncoder,
		maxTextChars: cfg.Quota.MaxTextChars,
		timeout:      time.Duration(cfg.Engine.TimeoutMS) * time.Millisecond,
		sem:          make(chan struct{}, cfg.Engine.MaxConcurrent),
		log:          log.With(slog.String("component", "gate")),
		requests:     requests,
		rejections:   rejections,
		characters:   characters,
	}
}

// FetchUser authenticates the caller and returns the user record, creating
// it lazily on first contact. No quota is consumed.
func (g *Gate) FetchUser(ctx context.Context, userID int64, token string) (quota.User, error) {
	g.count(ctx, g.requests, "user.get")
	if err := g.authenticate(ctx, userID, token); err != nil {
		return quota.User{}, err
	}
	return g.ledger.GetOrCreate(ctx, userID)
}

// SynthesizeWAV runs the full pipeline and returns the audio container.
func (g *Gate) SynthesizeWAV(ctx context.Context, userID int64, token, text string) ([]byte, error) {
	g.count(ctx, g.requests, "synth.wav")
	if err := g.admit(ctx, userID, token, text); err != nil {
		return nil, err
	}
	var container []byte
	err := g.withEngineSlot(ctx, func(ctx context.Context) error {
		data, err := g.engine.Generate(ctx, text)
		container = data
		return err
	})
	if err != nil {
		return nil, err
	}
	return container, nil
}

// SynthesizeOpus runs the full pipeline and returns ordered compressed
// frames.
func (g *Gate) SynthesizeOpus(ctx context.Context, userID int64, token, text string) ([][]byte, error) {
	g.count(ctx, g.requests, "synth.opus")
	if err := g.admit(ctx, userID, token, text); err != nil {
		return nil, err
	}
	var samples []int16
	err := g.withEngineSlot(ctx, func(ctx context.Context) error {
		pcm, err := g.engine.GeneratePCM(ctx, text)
		samples = pcm
		return err
	})
	if err != nil {
		return nil, err
	}

	enc, err := g.newEncoder()
	if err != nil {
		return nil, fmt.Errorf("create frame encoder: %w", err)
	}
	return enc.Encode(samples)
}

// RotateToken authenticates against the current token and issues a new one.
func (g *Gate) RotateToken(ctx context.Context, userID int64, token string) (string, error) {
	g.count(ctx, g.requests, "token.rotate")
	if err := g.authenticate(ctx, userID, token); err != nil {
		return "", err
	}
	if _, err := g.ledger.GetOrCreate(ctx, userID); err != nil {
		return "", err
	}
	return g.tokens.Rotate(ctx, userID)
}

// admit is the cheap half of the pipeline: validation, authentication, user
// resolution and quota consumption, in that order, so every rejection
// happens before expensive engine work.
func (g *Gate) admit(ctx context.Context, userID int64, token, text string) error {
	length := int64(utf8.RuneCountInString(text))
	if length > int64(g.maxTextChars) {
		g.count(ctx, g.rejections, "validation")
		return fmt.Errorf("%w: %d characters, limit %d", ErrTextTooLong, length, g.maxTextChars)
	}
	if err := g.authenticate(ctx, userID, token); err != nil {
		return err
	}
	if _, err := g.ledger.GetOrCreate(ctx, userID); err != nil {
		return err
	}
	if err := g.ledger.UseCapacity(ctx, userID, length); err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			g.count(ctx, g.rejections, "quota")
		}
		return err
	}
	g.characters.Add(ctx, length)
	return nil
}

func (g *Gate) authenticate(ctx context.Context, userID int64, token string) error {
	ok, err := g.tokens.Verify(ctx, userID, token)
	if err != nil {
		return err
	}
	if !ok {
		g.count(ctx, g.rejections, "auth")
		return ErrUnauthorized
	}
	return nil
}

// withEngineSlot bounds subprocess work: at most cap(sem) synthesis calls run
// at once, each under its own deadline, so a slow engine cannot stall
// unrelated bus handlers.
func (g *Gate) withEngineSlot(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.sem }()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return fn(ctx)
}

func (g *Gate) count(ctx context.Context, counter metric.Int64Counter, kind string) {
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
