package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/treelistings/publication-service/app/config"
	"github.com/treelistings/publication-service/domain/entity"
)

const ListingPublishedSubject = "listing.published"

// ListingPublishedEvent is the payload emitted after a publication commits.
type ListingPublishedEvent struct {
	ListingID  string    `json:"listing_id"`
	SellerID   string    `json:"seller_id"`
	Title      string    `json:"title"`
	Price      float64   `json:"price"`
	Categories []string  `json:"categories"`
	PostedAt   time.Time `json:"posted_at"`
}

type Publisher struct {
	nc  *nats.Conn
	log *zap.Logger
}

func NewPublisher(cfg config.NATSConfig, log *zap.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("publication-service"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	return &Publisher{nc: nc, log: log}, nil
}

func (p *Publisher) PublishListingPublished(ctx context.Context, listing *entity.Listing) error {
	event := ListingPublishedEvent{
		ListingID:  listing.ID,
		SellerID:   listing.SellerID,
		Title:      listing.Title,
		Price:      listing.Price,
		Categories: listing.Categories,
		PostedAt:   listing.PostedAt,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for %s: %w", ListingPublishedSubject, err)
	}
	if err := p.nc.Publish(ListingPublishedSubject, data); err != nil {
		return fmt.Errorf("failed to publish NATS message for %s: %w", ListingPublishedSubject, err)
	}

	p.log.Info("Published NATS message",
		zap.String("subject", ListingPublishedSubject),
		zap.String("listing_id", listing.ID),
	)
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil && !p.nc.IsClosed() {
		if err := p.nc.Drain(); err != nil {
			p.log.Error("Error draining NATS connection", zap.Error(err))
		}
		p.nc.Close()
	}
}
