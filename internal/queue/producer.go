package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/faceid/internal/faceid"
	"github.com/your-org/faceid/internal/models"
)

const (
	AuthStreamName  = "AUTH"
	AuthSubjectBase = "auth"

	// NotifyStreamName carries messages for an external delivery service.
	NotifyStreamName     = "NOTIFY"
	PasswordResetSubject = "notify.password_reset"

	publishTimeout = 2 * time.Second
)

// Subject returns the subject an event with the given outcome is published on.
func Subject(outcome models.AuthOutcome) string {
	return AuthSubjectBase + "." + string(outcome)
}

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

// Publisher emits authentication events. It satisfies faceid.Listener so it
// can be attached directly to the authenticator.
type Publisher struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewPublisher(natsURL string) (*Publisher, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, js: js}, nil
}

var streams = []jetstream.StreamConfig{
	{
		Name:        AuthStreamName,
		Subjects:    []string{AuthSubjectBase + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxMsgs:     1000000,
		Storage:     jetstream.FileStorage,
		Duplicates:  2 * time.Minute,
		Description: "Terminal authentication attempts",
	},
	{
		Name:        NotifyStreamName,
		Subjects:    []string{"notify.>"},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Description: "Outgoing user notifications",
	},
}

// EnsureStreams creates the AUTH and NOTIFY streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Publisher) EnsureStreams(ctx context.Context) error {
	for _, cfg := range streams {
		if err := p.ensureStream(ctx, cfg); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) ensureStream(ctx context.Context, cfg jetstream.StreamConfig) error {
	const maxAttempts = 30
	for attempt := 1; ; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
		cancel()
		if err == nil {
			slog.Info("ensured NATS stream", "name", cfg.Name)
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
		}
		slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// PublishAuthEvent publishes ev on auth.<outcome>. The attempt ID is used as
// the message ID so JetStream drops duplicates.
func (p *Publisher) PublishAuthEvent(ctx context.Context, ev *models.AuthEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal auth event: %w", err)
	}
	_, err = p.js.Publish(ctx, Subject(ev.Outcome), payload, jetstream.WithMsgID(ev.AttemptID.String()))
	if err != nil {
		return fmt.Errorf("publish auth event: %w", err)
	}
	return nil
}

// SendPasswordReset hands a reset link token to the notification stream. The
// message is addressed by email; delivery happens outside this service.
func (p *Publisher) SendPasswordReset(ctx context.Context, email, token string, expiresAt time.Time) error {
	payload, err := json.Marshal(models.PasswordResetNotice{
		Email:     email,
		Token:     token,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshal password reset notice: %w", err)
	}
	if _, err := p.js.Publish(ctx, PasswordResetSubject, payload); err != nil {
		return fmt.Errorf("publish password reset notice: %w", err)
	}
	return nil
}

func (p *Publisher) OnAuthenticated(ctx context.Context, a *faceid.Attempt) {
	p.publishAttempt(ctx, a)
}

func (p *Publisher) OnRejected(ctx context.Context, a *faceid.Attempt) {
	p.publishAttempt(ctx, a)
}

func (p *Publisher) publishAttempt(ctx context.Context, a *faceid.Attempt) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.PublishAuthEvent(ctx, EventFromAttempt(a)); err != nil {
		slog.Error("publish auth event", "attempt_id", a.ID, "error", err)
	}
}

// EventFromAttempt converts a terminal attempt into its audit event.
func EventFromAttempt(a *faceid.Attempt) *models.AuthEvent {
	ev := &models.AuthEvent{
		ID:        uuid.New(),
		AttemptID: a.ID,
		Method:    a.Method,
		Outcome:   models.OutcomeRejected,
		Distance:  a.Result.Distance,
		Threshold: a.Threshold,
		Scanned:   a.Result.Scanned,
		Timestamp: a.FinishedAt,
	}
	if a.State == faceid.StateAuthenticated {
		ev.Outcome = models.OutcomeAuthenticated
		id := a.Result.IdentityID
		ev.IdentityID = &id
	} else {
		ev.Reason = string(a.Reason)
	}
	for _, r := range a.Result.Mismatched {
		ev.MismatchedRecordIDs = append(ev.MismatchedRecordIDs, r.ID)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return ev
}

func (p *Publisher) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Publisher) Close() {
	p.nc.Close()
}
