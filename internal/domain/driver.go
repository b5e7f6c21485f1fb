package domain

// Driver is the dispatcher's view of a driver.
type Driver struct {
	ID           string
	Name         string
	IsAvailable  bool
	IsOnDelivery bool
	Rating       *float64
}

// Eligible reports whether the driver may receive a new offer.
func (d *Driver) Eligible() bool {
	return d.IsAvailable && !d.IsOnDelivery
}

// PartialDriverUpdate carries optional fields to update a driver.
// A nil field means “do not change” that attribute.
type PartialDriverUpdate struct {
	ID          string
	Name        *string
	IsAvailable *bool
	Rating      *float64
}
