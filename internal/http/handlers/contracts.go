package handlers

import (
	"context"

	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/service/dispatch"
	"courier-dispatch/internal/service/offer"
	"courier-dispatch/internal/service/reclaim"
	"courier-dispatch/internal/service/sweep"
)

type dispatcher interface {
	Dispatch(ctx context.Context, deliveryID string) (dispatch.Result, error)
}

type responder interface {
	Respond(ctx context.Context, offerID string, action domain.OfferAction) (offer.Result, error)
}

type reclaimer interface {
	Reclaim(ctx context.Context, deliveryID, driverID, callerID string) (reclaim.Result, error)
}

type sweeper interface {
	SweepExpiredOffers(ctx context.Context) (sweep.Result, error)
}

type deliveryUsecase interface {
	Get(ctx context.Context, deliveryID string) (*domain.Delivery, error)
	History(ctx context.Context, deliveryID string) ([]domain.Offer, error)
	Complete(ctx context.Context, deliveryID string) (*domain.Delivery, error)
	Cancel(ctx context.Context, deliveryID string) (*domain.Delivery, error)
}

type driverUsecase interface {
	Get(ctx context.Context, id string) (*domain.Driver, error)
	List(ctx context.Context, limit, offset *int) ([]domain.Driver, error)
	Create(ctx context.Context, d *domain.Driver) (string, error)
	UpdatePartial(ctx context.Context, u domain.PartialDriverUpdate) (bool, error)
}
