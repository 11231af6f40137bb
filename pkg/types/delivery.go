package types

import (
	"errors"
	"strings"
)

// DeliveryInfo is the delivery snapshot stored on an order.
type DeliveryInfo struct {
	RecipientName string  `json:"recipient_name"`
	Phone         string  `json:"phone"`
	Line1         string  `json:"line1"`
	Line2         *string `json:"line2,omitempty"`
	City          string  `json:"city"`
	State         string  `json:"state"`
	Country       string  `json:"country"`
	Notes         *string `json:"notes,omitempty"`
}

// Validate checks the fields a courier cannot work without.
func (d DeliveryInfo) Validate() error {
	switch {
	case strings.TrimSpace(d.RecipientName) == "":
		return errors.New("delivery: missing recipient_name")
	case strings.TrimSpace(d.Phone) == "":
		return errors.New("delivery: missing phone")
	case strings.TrimSpace(d.Line1) == "":
		return errors.New("delivery: missing line1")
	case strings.TrimSpace(d.City) == "":
		return errors.New("delivery: missing city")
	case strings.TrimSpace(d.State) == "":
		return errors.New("delivery: missing state")
	}
	return nil
}
