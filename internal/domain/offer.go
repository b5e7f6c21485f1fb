package domain

import "time"

// Offer is one time-bounded proposal of a delivery to a driver.
type Offer struct {
	ID          string
	DeliveryID  string
	DriverID    string
	Status      OfferStatus
	OfferedAt   time.Time
	ExpiresAt   time.Time
	RespondedAt *time.Time
}

// IsExpired reports whether the response window has elapsed at now.
func (o *Offer) IsExpired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}
