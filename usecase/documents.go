package usecase

import (
	"time"

	"github.com/treelistings/publication-service/domain/entity"
	"github.com/treelistings/publication-service/repository"
)

const (
	listingsCollection      = "listings"
	categoryStatsCollection = "category_stats"
	usersCollection         = "users"
	offersCollection        = "offers"

	fieldSellerID    = "seller_id"
	fieldActiveCount = "active_count"
)

// Converters between entities and the store-neutral Document shape. The
// document ID travels beside the document, never inside it.

func listingToDocument(l *entity.Listing) repository.Document {
	doc := repository.Document{
		fieldSellerID: l.SellerID,
		"title":       l.Title,
		"description": l.Description,
		"price":       l.Price,
		"categories":  l.Categories,
		"status":      string(l.Status),
		"posted_at":   l.PostedAt,
	}
	if l.PhotoURL != "" {
		doc["photo_url"] = l.PhotoURL
	}
	if l.SoldAt != nil {
		doc["sold_at"] = *l.SoldAt
	}
	if l.BuyerID != "" {
		doc["buyer_id"] = l.BuyerID
	}
	return doc
}

func listingFromDocument(id string, doc repository.Document) *entity.Listing {
	return &entity.Listing{
		ID:          id,
		SellerID:    asString(doc[fieldSellerID]),
		Title:       asString(doc["title"]),
		Description: asString(doc["description"]),
		Price:       asFloat64(doc["price"]),
		Categories:  asStringSlice(doc["categories"]),
		PhotoURL:    asString(doc["photo_url"]),
		Status:      entity.ListingStatus(asString(doc["status"])),
		PostedAt:    asTime(doc["posted_at"]),
		SoldAt:      asTimePtr(doc["sold_at"]),
		BuyerID:     asString(doc["buyer_id"]),
	}
}

func categoryStatsToDocument(s *entity.CategoryStats) repository.Document {
	return repository.Document{
		fieldActiveCount: s.ActiveCount,
		"sold_count":     s.SoldCount,
		"updated_at":     s.UpdatedAt,
	}
}

func categoryStatsFromDocument(code string, doc repository.Document) *entity.CategoryStats {
	return &entity.CategoryStats{
		Code:        code,
		ActiveCount: asInt64(doc[fieldActiveCount]),
		SoldCount:   asInt64(doc["sold_count"]),
		UpdatedAt:   asTime(doc["updated_at"]),
	}
}

func userFromDocument(id string, doc repository.Document) *entity.User {
	return &entity.User{
		ID:          id,
		Username:    asString(doc["username"]),
		Email:       asString(doc["email"]),
		Phone:       asString(doc["phone"]),
		Rating:      asFloat64(doc["rating"]),
		RatingCount: asInt64(doc["rating_count"]),
		JoinedAt:    asTime(doc["joined_at"]),
	}
}

func offerFromDocument(id string, doc repository.Document) *entity.Offer {
	return &entity.Offer{
		ID:        id,
		ListingID: asString(doc["listing_id"]),
		BuyerID:   asString(doc["buyer_id"]),
		SellerID:  asString(doc[fieldSellerID]),
		Price:     asFloat64(doc["price"]),
		OfferedAt: asTime(doc["offered_at"]),
		DecidedAt: asTimePtr(doc["decided_at"]),
		Status:    entity.OfferStatus(asString(doc["status"])),
	}
}

func listingsFromSnapshot(snapshot repository.Snapshot) map[string]*entity.Listing {
	out := make(map[string]*entity.Listing, len(snapshot))
	for id, doc := range snapshot {
		out[id] = listingFromDocument(id, doc)
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func asTime(v any) time.Time {
	t, _ := v.(time.Time)
	return t
}

func asTimePtr(v any) *time.Time {
	if t, ok := v.(time.Time); ok {
		return &t
	}
	return nil
}

func asStringSlice(v any) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, asString(item))
		}
		return out
	default:
		return nil
	}
}
