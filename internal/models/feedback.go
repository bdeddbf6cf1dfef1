package models

import "time"

type Feedback struct {
	FeedbackID  string    `json:"feedback_id"`
	DayID       string    `json:"day_id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	PhoneNumber string    `json:"phone_number"`
	Rating      int       `json:"rating"`
	Review      *string   `json:"review,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}
