package models

import "time"

// Day is the queue-wide record for one business day. CurrentServingPosition
// is zero while nobody is being served.
type Day struct {
	DayID                  string    `json:"day_id"`
	IsOpen                 bool      `json:"is_open"`
	LastTicketNumber       int       `json:"last_ticket_number"`
	CurrentServingPosition int       `json:"current_serving_position"`
	AverageServiceMinutes  int       `json:"average_service_minutes"`
	UpdatedAt              time.Time `json:"updated_at"`
}

const DefaultAverageServiceMinutes = 15

func NewDay(dayID string, averageMinutes int) Day {
	if averageMinutes <= 0 {
		averageMinutes = DefaultAverageServiceMinutes
	}
	return Day{
		DayID:                 dayID,
		IsOpen:                true,
		AverageServiceMinutes: averageMinutes,
	}
}

func (d Day) Serving() bool {
	return d.CurrentServingPosition != 0
}
