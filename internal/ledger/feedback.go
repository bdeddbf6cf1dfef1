package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/TalelCS/melek/internal/models"
	"github.com/TalelCS/melek/internal/store"
)

type FeedbackInput struct {
	FirstName   string
	LastName    string
	PhoneNumber string
	Rating      int
	Review      string
}

// SubmitFeedback records a client's rating of a visit. It does not touch the
// queue.
func (l *Ledger) SubmitFeedback(ctx context.Context, input FeedbackInput) (models.Feedback, error) {
	identity, err := l.normalizeJoin(JoinInput{
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		PhoneNumber: input.PhoneNumber,
	})
	if err != nil {
		return models.Feedback{}, err
	}
	if input.Rating < 1 || input.Rating > 5 {
		return models.Feedback{}, fmt.Errorf("%w: rating must be between 1 and 5", store.ErrInvalidInput)
	}

	feedback := models.Feedback{
		FeedbackID:  l.newID(),
		DayID:       l.dayID,
		FirstName:   identity.FirstName,
		LastName:    identity.LastName,
		PhoneNumber: identity.PhoneNumber,
		Rating:      input.Rating,
		SubmittedAt: l.now().UTC(),
	}
	if review := strings.TrimSpace(input.Review); review != "" {
		feedback.Review = &review
	}

	ctx, span := l.tracer.Start(ctx, "ledger.SubmitFeedback")
	defer span.End()
	if err := l.store.AddFeedback(ctx, feedback); err != nil {
		span.RecordError(err)
		return models.Feedback{}, err
	}
	return feedback, nil
}
