package entity

import "time"

// CategoryStats is the derived aggregate for a category, keyed by its natural
// code (e.g. "BIKE"). It is created implicitly the first time a listing
// references the code and is never deleted. Counts only ever go up: a
// publication adds one to ActiveCount, a sale moves nothing out of it.
// Counters therefore read as "ever listed" / "ever sold" totals.
type CategoryStats struct {
	Code        string    `json:"code"`
	ActiveCount int64     `json:"active_count"`
	SoldCount   int64     `json:"sold_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewCategoryStats is the creation write for a category first referenced by
// the listing being published, so it starts with one active listing.
func NewCategoryStats(code string) *CategoryStats {
	return &CategoryStats{
		Code:        code,
		ActiveCount: 1,
		SoldCount:   0,
		UpdatedAt:   time.Now().UTC(),
	}
}
