package service

import (
	"alcyxob/fitness-sessions/internal/domain"
	"alcyxob/fitness-sessions/internal/repository"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// GetSessionDetail resolves the trainer, the enrolled clients and the cover URL concurrently.
// A trainer missing from the directory leaves Trainer nil rather than failing the read.
func (s *schedulingService) GetSessionDetail(ctx context.Context, sessionID primitive.ObjectID) (detail *SessionDetail, err error) {
	ctx, span := s.start(ctx, "get_session_detail", attribute.String("session.id", sessionID.Hex()))
	defer func() { s.finish(span, "get_session_detail", err) }()

	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID.Hex())
		}
		return nil, err
	}

	detail = &SessionDetail{Session: *session, Clients: []domain.User{}}
	g, gctx := errgroup.WithContext(ctx)

	if session.TrainerID != nil {
		g.Go(func() error {
			trainer, err := s.users.GetByID(gctx, *session.TrainerID)
			if errors.Is(err, repository.ErrNotFound) {
				slog.WarnContext(gctx, "trainer not found in directory", "session_id", sessionID.Hex(), "trainer_id", session.TrainerIDHex())
				return nil
			}
			if err != nil {
				return err
			}
			detail.Trainer = trainer
			return nil
		})
	}

	g.Go(func() error {
		enrollments, err := s.store.FindEnrollments(gctx, sessionID)
		if err != nil {
			return err
		}
		if len(enrollments) == 0 {
			return nil
		}
		ids := make([]primitive.ObjectID, len(enrollments))
		for i, e := range enrollments {
			ids[i] = e.ClientID
		}
		clients, err := s.users.GetByIDs(gctx, ids)
		if err != nil {
			return err
		}
		detail.Clients = clients
		return nil
	})

	if session.CoverImageKey != "" && s.files != nil {
		g.Go(func() error {
			url, err := s.files.GeneratePresignedDownloadURL(gctx, session.CoverImageKey, 0)
			if err != nil {
				slog.WarnContext(gctx, "failed to presign cover image", "session_id", sessionID.Hex(), "error", err)
				return nil
			}
			detail.CoverImageURL = url
			return nil
		})
	}

	if err = g.Wait(); err != nil {
		return nil, err
	}
	return detail, nil
}
