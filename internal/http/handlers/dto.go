package handlers

import (
	"time"

	"courier-dispatch/internal/domain"
)

type offerDTO struct {
	ID          string             `json:"id"`
	DeliveryID  string             `json:"delivery_id"`
	DriverID    string             `json:"driver_id"`
	Status      domain.OfferStatus `json:"status"`
	OfferedAt   time.Time          `json:"offered_at"`
	ExpiresAt   time.Time          `json:"expires_at"`
	RespondedAt *time.Time         `json:"responded_at"`
}

type dispatchOfferedResponse struct {
	Offer    offerDTO `json:"offer"`
	DriverID string   `json:"driver_id"`
}

type dispatchParkedResponse struct {
	Parked     bool   `json:"parked"`
	Message    string `json:"message"`
	DeliveryID string `json:"delivery_id"`
}

type respondRequest struct {
	Action string `json:"action"`
}

type respondResponse struct {
	Action     string `json:"action"`
	DeliveryID string `json:"delivery_id"`
}

type reclaimRequest struct {
	DriverID string `json:"driver_id,omitempty"`
}

type reclaimResponse struct {
	DeliveryID string `json:"delivery_id"`
	DriverID   string `json:"driver_id"`
}

type sweepResponse struct {
	Message        string `json:"message"`
	ProcessedCount int    `json:"processed_count"`
	ReofferedCount int    `json:"reoffered_count"`
	RepairedCount  int    `json:"repaired_count"`
	RetriedCount   int    `json:"retried_count"`
	Skipped        bool   `json:"skipped,omitempty"`
}

type deliveryDTO struct {
	ID              string                `json:"id"`
	Status          domain.DeliveryStatus `json:"status"`
	OfferedDriverID *string               `json:"offered_driver_id"`
	OfferExpiresAt  *time.Time            `json:"offer_expires_at"`
	DriverID        *string               `json:"driver_id"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

type driverDTO struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	IsAvailable  bool     `json:"is_available"`
	IsOnDelivery bool     `json:"is_on_delivery"`
	Rating       *float64 `json:"rating"`
}

type createDriverRequest struct {
	Name        string   `json:"name"`
	IsAvailable bool     `json:"is_available"`
	Rating      *float64 `json:"rating,omitempty"`
}

type updateDriverRequest struct {
	Name        *string  `json:"name,omitempty"`
	IsAvailable *bool    `json:"is_available,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
}
