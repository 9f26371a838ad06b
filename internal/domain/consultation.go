package domain

import (
	"time"

	"github.com/google/uuid"
)

// Consultation is an append-only audit row recorded once per lookup attempt,
// successful or not. It feeds statistics only; admission decisions never read it.
type Consultation struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	AccessKey string    `json:"access_key"`
	Succeeded bool      `json:"succeeded"`
	Attempts  int       `json:"attempts"`
	LastError *string   `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats aggregates service-wide counters for the operational stats endpoint.
type Stats struct {
	TotalUsers              int     `json:"total_users"`
	ActiveSubscribers       int     `json:"active_subscribers"`
	TotalConsultations      int     `json:"total_consultations"`
	SuccessfulConsultations int     `json:"successful_consultations"`
	SuccessRate             float64 `json:"success_rate"`
}
