package entity

import "time"

type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
)

// Offer is referenced by identifier only; offer mutation runs outside this
// service. DecidedAt stays nil while the offer is pending.
type Offer struct {
	ID        string      `json:"id"`
	ListingID string      `json:"listing_id"`
	BuyerID   string      `json:"buyer_id"`
	SellerID  string      `json:"seller_id"`
	Price     float64     `json:"price"`
	OfferedAt time.Time   `json:"offered_at"`
	DecidedAt *time.Time  `json:"decided_at,omitempty"`
	Status    OfferStatus `json:"status"`
}
