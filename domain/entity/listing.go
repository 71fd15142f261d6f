package entity

import (
	"errors"
	"fmt"
	"time"
)

type ListingStatus string

const (
	StatusActive   ListingStatus = "active"
	StatusSold     ListingStatus = "sold"
	StatusInactive ListingStatus = "inactive"
)

// ErrInvalidListing is wrapped by every validation failure so callers can
// classify them with errors.Is without inspecting messages.
var ErrInvalidListing = errors.New("invalid listing data")

type Listing struct {
	ID          string        `json:"id"`
	SellerID    string        `json:"seller_id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Price       float64       `json:"price"`
	Categories  []string      `json:"categories"`
	PhotoURL    string        `json:"photo_url,omitempty"`
	Status      ListingStatus `json:"status"`
	PostedAt    time.Time     `json:"posted_at"`
	SoldAt      *time.Time    `json:"sold_at,omitempty"`
	BuyerID     string        `json:"buyer_id,omitempty"`
}

// NewListing validates the caller-supplied fields and returns a new active
// listing without an ID. The ID is allocated by the coordinator before the
// write so the asset reference and the record agree.
func NewListing(sellerID, title, description string, price float64, categories []string) (*Listing, error) {
	if sellerID == "" {
		return nil, fmt.Errorf("%w: seller ID is required", ErrInvalidListing)
	}
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidListing)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive, got %v", ErrInvalidListing, price)
	}
	if len(categories) == 0 {
		return nil, fmt.Errorf("%w: at least one category is required", ErrInvalidListing)
	}
	// Categories form an ordered set: duplicates collapse, order stays.
	seen := make(map[string]bool, len(categories))
	ordered := make([]string, 0, len(categories))
	for _, code := range categories {
		if code == "" {
			return nil, fmt.Errorf("%w: category codes must be non-empty", ErrInvalidListing)
		}
		if !seen[code] {
			seen[code] = true
			ordered = append(ordered, code)
		}
	}

	return &Listing{
		SellerID:    sellerID,
		Title:       title,
		Description: description,
		Price:       price,
		Categories:  ordered,
		Status:      StatusActive,
		PostedAt:    time.Now().UTC(),
	}, nil
}

func (l *Listing) IsActive() bool {
	return l.Status == StatusActive
}

// MarkSold flips the listing to sold. The sold timestamp is assigned exactly
// once, when the active flag drops through a sale.
func (l *Listing) MarkSold(buyerID string) error {
	if buyerID == "" {
		return fmt.Errorf("%w: buyer ID is required to mark a listing sold", ErrInvalidListing)
	}
	if l.Status != StatusActive {
		return fmt.Errorf("listing %s is not active and cannot be sold", l.ID)
	}
	now := time.Now().UTC()
	l.Status = StatusSold
	l.SoldAt = &now
	l.BuyerID = buyerID
	return nil
}

func (l *Listing) Deactivate() {
	if l.Status == StatusActive {
		l.Status = StatusInactive
	}
}
