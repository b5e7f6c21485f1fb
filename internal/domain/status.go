package domain

type (
	// DeliveryStatus represents the dispatch state of a delivery.
	DeliveryStatus string
	// OfferStatus represents the state of a single offer.
	OfferStatus string
	// OfferAction is a driver's response to an offer.
	OfferAction string
)

// List of delivery statuses
const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryOffered   DeliveryStatus = "offered"
	DeliveryAssigned  DeliveryStatus = "assigned"
	DeliveryCompleted DeliveryStatus = "completed"
	DeliveryCancelled DeliveryStatus = "cancelled"
)

// List of offer statuses
const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferDeclined OfferStatus = "declined"
	OfferExpired  OfferStatus = "expired"
)

// List of driver actions on an offer
const (
	ActionAccept  OfferAction = "accept"
	ActionDecline OfferAction = "decline"
)

var allowedDeliveryStatuses = [...]DeliveryStatus{
	DeliveryPending, DeliveryOffered, DeliveryAssigned, DeliveryCompleted, DeliveryCancelled,
}

var allowedOfferStatuses = [...]OfferStatus{
	OfferPending, OfferAccepted, OfferDeclined, OfferExpired,
}

// Valid checks if the DeliveryStatus is valid
func (s DeliveryStatus) Valid() bool {
	for _, v := range allowedDeliveryStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Valid checks if the OfferStatus is valid
func (s OfferStatus) Valid() bool {
	for _, v := range allowedOfferStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether the offer can no longer change.
func (s OfferStatus) Terminal() bool {
	return s != OfferPending && s.Valid()
}

// Valid checks if the OfferAction is valid
func (a OfferAction) Valid() bool {
	return a == ActionAccept || a == ActionDecline
}
