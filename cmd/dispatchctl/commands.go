package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/http/middleware/auth"
)

type dispatchOutput struct {
	DeliveryID string       `json:"delivery_id"`
	Parked     bool         `json:"parked"`
	Offer      *offerOutput `json:"offer,omitempty"`
}

type offerOutput struct {
	ID          string             `json:"id"`
	DriverID    string             `json:"driver_id"`
	Status      domain.OfferStatus `json:"status"`
	OfferedAt   time.Time          `json:"offered_at"`
	ExpiresAt   time.Time          `json:"expires_at"`
	RespondedAt *time.Time         `json:"responded_at,omitempty"`
}

type deliveryOutput struct {
	ID              string                `json:"id"`
	Status          domain.DeliveryStatus `json:"status"`
	OfferedDriverID *string               `json:"offered_driver_id,omitempty"`
	OfferExpiresAt  *time.Time            `json:"offer_expires_at,omitempty"`
	DriverID        *string               `json:"driver_id,omitempty"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

func toOfferOutput(o domain.Offer) offerOutput {
	return offerOutput{
		ID:          o.ID,
		DriverID:    o.DriverID,
		Status:      o.Status,
		OfferedAt:   o.OfferedAt,
		ExpiresAt:   o.ExpiresAt,
		RespondedAt: o.RespondedAt,
	}
}

func toDeliveryOutput(d *domain.Delivery) deliveryOutput {
	return deliveryOutput{
		ID:              d.ID,
		Status:          d.Status,
		OfferedDriverID: d.OfferedDriverID,
		OfferExpiresAt:  d.OfferExpiresAt,
		DriverID:        d.DriverID,
		UpdatedAt:       d.UpdatedAt,
	}
}

type sweepOutput struct {
	Processed int  `json:"processed_count"`
	Reoffered int  `json:"reoffered_count"`
	Repaired  int  `json:"repaired_count"`
	Retried   int  `json:"retried_count"`
	Skipped   bool `json:"skipped,omitempty"`
}

func newDispatchCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch <delivery-id>",
		Short: "Offer a pending delivery to the best available driver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, open, func(ctx context.Context, s *services) error {
				res, err := s.dispatch.Dispatch(ctx, args[0])
				if err != nil {
					return fmt.Errorf("dispatch: %w", err)
				}
				out := dispatchOutput{DeliveryID: res.DeliveryID, Parked: res.Parked}
				if res.Offer != nil {
					o := toOfferOutput(*res.Offer)
					out.Offer = &o
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

func newSweepCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire elapsed offers and re-offer their deliveries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd, open, func(ctx context.Context, s *services) error {
				res, err := s.sweep.SweepExpiredOffers(ctx)
				if err != nil {
					return fmt.Errorf("sweep: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), sweepOutput{
					Processed: res.Processed,
					Reoffered: res.Reoffered,
					Repaired:  res.Repaired,
					Retried:   res.Retried,
					Skipped:   res.Skipped,
				})
			})
		},
	}
}

func newHistoryCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "history <delivery-id>",
		Short: "Print the offer ledger of a delivery, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, open, func(ctx context.Context, s *services) error {
				offers, err := s.deliveries.History(ctx, args[0])
				if err != nil {
					return fmt.Errorf("history: %w", err)
				}
				out := make([]offerOutput, 0, len(offers))
				for _, o := range offers {
					out = append(out, toOfferOutput(o))
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

func newCompleteCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <delivery-id>",
		Short: "Mark an assigned delivery completed and free its driver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, open, func(ctx context.Context, s *services) error {
				d, err := s.deliveries.Complete(ctx, args[0])
				if err != nil {
					return fmt.Errorf("complete: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), toDeliveryOutput(d))
			})
		},
	}
}

func newCancelCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <delivery-id>",
		Short: "Cancel a delivery, withdrawing any pending offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, open, func(ctx context.Context, s *services) error {
				d, err := s.deliveries.Cancel(ctx, args[0])
				if err != nil {
					return fmt.Errorf("cancel: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), toDeliveryOutput(d))
			})
		},
	}
}

func newTokenCmd(open opener) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <driver-id>",
		Short: "Issue a bearer token for a driver, signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, open, func(_ context.Context, s *services) error {
				id, ok := domain.NormalizeID(args[0])
				if !ok {
					return fmt.Errorf("token: driver id %q is not a uuid", args[0])
				}
				v := auth.NewVerifier(s.cfg.Auth.JWTSecret, s.cfg.Auth.Issuer, s.clock, s.logger)
				tok, err := v.Issue(id, ttl)
				if err != nil {
					return fmt.Errorf("token: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
