package notification

import (
	"context"

	"github.com/google/uuid"

	"github.com/radiolyze/radiolyze/internal/platform/apperrors"
	"github.com/radiolyze/radiolyze/internal/platform/auth"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) ListForActor(ctx context.Context, actor auth.Actor, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	return s.repo.ListByRecipient(ctx, actor.ID, unreadOnly, limit, offset)
}

func (s *Service) UnreadCount(ctx context.Context, actor auth.Actor) (int, error) {
	return s.repo.UnreadCount(ctx, actor.ID)
}

// MarkRead flips the read flag. Only the recipient may mark their own
// notifications.
func (s *Service) MarkRead(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if n.RecipientID != actor.ID && actor.Role != auth.RoleAdmin {
		return apperrors.Forbidden("not your notification")
	}
	return s.repo.MarkRead(ctx, id)
}

func (s *Service) MarkAllRead(ctx context.Context, actor auth.Actor) error {
	return s.repo.MarkAllRead(ctx, actor.ID)
}
