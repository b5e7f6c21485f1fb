package handlers

import "courier-dispatch/internal/domain"

func offerToResponse(o domain.Offer) offerDTO {
	return offerDTO{
		ID:          o.ID,
		DeliveryID:  o.DeliveryID,
		DriverID:    o.DriverID,
		Status:      o.Status,
		OfferedAt:   o.OfferedAt,
		ExpiresAt:   o.ExpiresAt,
		RespondedAt: o.RespondedAt,
	}
}

func offersToResponse(list []domain.Offer) []offerDTO {
	out := make([]offerDTO, 0, len(list))
	for _, o := range list {
		out = append(out, offerToResponse(o))
	}
	return out
}

func deliveryToResponse(d domain.Delivery) deliveryDTO {
	return deliveryDTO{
		ID:              d.ID,
		Status:          d.Status,
		OfferedDriverID: d.OfferedDriverID,
		OfferExpiresAt:  d.OfferExpiresAt,
		DriverID:        d.DriverID,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func driverToResponse(d domain.Driver) driverDTO {
	return driverDTO{
		ID:           d.ID,
		Name:         d.Name,
		IsAvailable:  d.IsAvailable,
		IsOnDelivery: d.IsOnDelivery,
		Rating:       d.Rating,
	}
}

func driversToResponse(list []domain.Driver) []driverDTO {
	out := make([]driverDTO, 0, len(list))
	for _, d := range list {
		out = append(out, driverToResponse(d))
	}
	return out
}

func (req createDriverRequest) toModel() *domain.Driver {
	return &domain.Driver{
		Name:        req.Name,
		IsAvailable: req.IsAvailable,
		Rating:      req.Rating,
	}
}

func (req updateDriverRequest) toModel(id string) domain.PartialDriverUpdate {
	return domain.PartialDriverUpdate{
		ID:          id,
		Name:        req.Name,
		IsAvailable: req.IsAvailable,
		Rating:      req.Rating,
	}
}
