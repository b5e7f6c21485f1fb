package domain

import "time"

// Delivery is a job waiting to be (or already) handed to a driver.
// OfferedDriverID and OfferExpiresAt are set only while Status is offered;
// DriverID is set only while Status is assigned or completed.
type Delivery struct {
	ID              string
	Status          DeliveryStatus
	OfferedDriverID *string
	OfferExpiresAt  *time.Time
	DriverID        *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasLiveOffer reports whether the delivery is offered and the window is still open at now; the window includes OfferExpiresAt itself.
func (d *Delivery) HasLiveOffer(now time.Time) bool {
	return d.Status == DeliveryOffered && d.OfferExpiresAt != nil && !now.After(*d.OfferExpiresAt)
}

// OfferedTo reports whether the delivery is currently offered to driverID.
func (d *Delivery) OfferedTo(driverID string) bool {
	return d.Status == DeliveryOffered && d.OfferedDriverID != nil && *d.OfferedDriverID == driverID
}

// Consistent checks the field invariants of the data model.
func (d *Delivery) Consistent() bool {
	offered := d.OfferedDriverID != nil && d.OfferExpiresAt != nil
	if (d.Status == DeliveryOffered) != offered {
		return false
	}
	if d.Status != DeliveryOffered && (d.OfferedDriverID != nil || d.OfferExpiresAt != nil) {
		return false
	}
	hasDriver := d.DriverID != nil
	return hasDriver == (d.Status == DeliveryAssigned || d.Status == DeliveryCompleted)
}
