// Package meeting obtains video-meeting links for newly scheduled sessions.
package meeting

import (
	"alcyxob/fitness-sessions/internal/domain"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Links are the URLs returned by the meeting provider.
type Links struct {
	JoinURL  string `json:"joinUrl"`
	StartURL string `json:"startUrl"`
}

// Provisioner creates a meeting for a session. Callers treat failures as best effort.
type Provisioner interface {
	Provision(ctx context.Context, session *domain.Session) (Links, error)
}

type provisionRequest struct {
	SessionID       string    `json:"sessionId"`
	Title           string    `json:"title"`
	ScheduledAt     time.Time `json:"scheduledAt"`
	DurationMinutes int       `json:"durationMinutes"`
	TrainerID       string    `json:"trainerId,omitempty"`
}

type provisionReply struct {
	Links
	Error string `json:"error,omitempty"`
}

type requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// NatsProvisioner asks the meeting worker for links over NATS request/reply.
type NatsProvisioner struct {
	conn    requester
	subject string
	timeout time.Duration
}

func NewNatsProvisioner(conn *nats.Conn, subject string, timeout time.Duration) *NatsProvisioner {
	return newNatsProvisioner(conn, subject, timeout)
}

func newNatsProvisioner(conn requester, subject string, timeout time.Duration) *NatsProvisioner {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &NatsProvisioner{conn: conn, subject: subject, timeout: timeout}
}

func (p *NatsProvisioner) Provision(ctx context.Context, session *domain.Session) (Links, error) {
	payload, err := json.Marshal(provisionRequest{
		SessionID:       session.ID.Hex(),
		Title:           session.Title,
		ScheduledAt:     session.ScheduledAt,
		DurationMinutes: session.DurationMinutes,
		TrainerID:       session.TrainerIDHex(),
	})
	if err != nil {
		return Links{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg, err := p.conn.RequestWithContext(ctx, p.subject, payload)
	if err != nil {
		return Links{}, fmt.Errorf("meeting provisioning request: %w", err)
	}

	var reply provisionReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return Links{}, fmt.Errorf("decode meeting reply: %w", err)
	}
	if reply.Error != "" {
		return Links{}, errors.New(reply.Error)
	}
	if reply.JoinURL == "" {
		return Links{}, errors.New("meeting reply has no join url")
	}
	return reply.Links, nil
}

// NopProvisioner is used when no provider is configured; sessions keep empty links.
type NopProvisioner struct{}

func (NopProvisioner) Provision(context.Context, *domain.Session) (Links, error) {
	return Links{}, nil
}
