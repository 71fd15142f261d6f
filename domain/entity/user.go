package entity

import "time"

// User is read-only from this service's perspective: the publication flow
// looks profiles up for notifications, it never writes them.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone,omitempty"`
	Rating      float64   `json:"rating"`
	RatingCount int64     `json:"rating_count"`
	JoinedAt    time.Time `json:"joined_at"`
}
