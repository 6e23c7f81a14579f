package model

// Trip is the read model returned by the trip service.  Only the fields
// the booking flow needs are kept.
type Trip struct {
	ID         int64  `json:"id"`
	Capacity   int    `json:"capacity"`
	PriceCents int64  `json:"price_cents"`
	BusType    string `json:"bus_type,omitempty"`
}
