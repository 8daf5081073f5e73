package notification

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/svengustafson1/serviceblitzy-sub002/internal/domain"
)

type Repository interface {
	Create(ctx context.Context, n *domain.Notification) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Notification, error)
}

// Service writes engine notifications into the persisted outbox. It satisfies
// the schedule module's Notifier. Operator alerts fan out to the explicitly
// configured operator accounts; there is no ad hoc "next admin" lookup.
type Service struct {
	repo      Repository
	operators []int64
}

func NewService(repo Repository, operators []int64) *Service {
	return &Service{repo: repo, operators: operators}
}

func (s *Service) SendToUser(ctx context.Context, userID int64, kind domain.NotificationKind, payload map[string]any) error {
	n := &domain.Notification{
		EventID: uuid.NewString(),
		UserID:  userID,
		Kind:    kind,
		Title:   titleFor(kind),
	}
	if err := n.SetData(payload); err != nil {
		return err
	}
	return s.repo.Create(ctx, n)
}

func (s *Service) SendToOperators(ctx context.Context, kind domain.NotificationKind, payload map[string]any) error {
	if len(s.operators) == 0 {
		log.Printf("no operators configured, dropping %s alert", kind)
		return nil
	}
	// One logical event, one row per operator.
	eventID := uuid.NewString()
	var firstErr error
	for _, op := range s.operators {
		n := &domain.Notification{
			EventID: eventID,
			UserID:  op,
			Kind:    kind,
			Title:   titleFor(kind),
		}
		if err := n.SetData(payload); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, n); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ListForUser returns the user's latest notifications, newest first.
func (s *Service) ListForUser(ctx context.Context, userID int64, limit int) ([]domain.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListByUser(ctx, userID, limit)
}

func titleFor(kind domain.NotificationKind) string {
	switch kind {
	case domain.NotificationUpcomingService:
		return "Upcoming service scheduled"
	case domain.NotificationScheduleTrouble:
		return "There is an issue with your recurring schedule"
	case domain.NotificationScheduleAlert:
		return "Recurring schedule generation failing"
	case domain.NotificationScheduleCancelled:
		return "Recurring schedule cancelled"
	default:
		return string(kind)
	}
}
