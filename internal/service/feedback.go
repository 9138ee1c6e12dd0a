package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"loanlens/internal/models"
	"loanlens/internal/repository"
)

func (s *loanService) GetFeedback(ctx context.Context, callID string) (*models.CallFeedback, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.feedback.Get(ctx, callID)
}

// CreateFeedback records the first review of a call. A second review must
// go through UpdateFeedback.
func (s *loanService) CreateFeedback(ctx context.Context, callID string, in models.FeedbackInput) (*models.CallFeedback, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	fb, err := repository.NewFeedback(callID, in)
	if err != nil {
		return nil, err
	}
	if _, err := s.calls.GetCall(ctx, callID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCallNotFound
		}
		return nil, err
	}

	if err := s.feedback.Create(ctx, fb); err != nil {
		return nil, err
	}
	s.logger.Info("Feedback recorded",
		zap.String("call_id", callID),
		zap.String("feedback_type", fb.FeedbackType),
		zap.String("user_id", fb.UserID))
	return fb, nil
}

func (s *loanService) UpdateFeedback(ctx context.Context, callID string, in models.FeedbackInput) (*models.CallFeedback, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	fb, err := repository.NewFeedback(callID, in)
	if err != nil {
		return nil, err
	}
	if err := s.feedback.Update(ctx, fb); err != nil {
		return nil, err
	}
	s.logger.Info("Feedback updated",
		zap.String("call_id", callID),
		zap.String("feedback_type", fb.FeedbackType))
	return fb, nil
}

func (s *loanService) OfficerAccuracy(ctx context.Context, phoneNumber string) (*models.OfficerAccuracy, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.feedback.OfficerAccuracy(ctx, phoneNumber)
}
