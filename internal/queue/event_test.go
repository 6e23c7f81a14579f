package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		eventType string
		payload   string
		want      Event
	}{
		{TypeReservationExpired, `{"reservationId":"r-1","tripId":7}`, &ReservationExpired{ReservationID: "r-1", TripID: 7}},
		{TypeBookingFailed, `{"orderId":"o-1","reason":"declined"}`, &BookingFailed{OrderID: "o-1", Reason: "declined"}},
		{TypeOrderCancelled, `{"orderId":"o-2"}`, &OrderCancelled{OrderID: "o-2"}},
		{TypePaymentSucceeded, `{"orderId":"o-3","paymentId":"p-1"}`, &PaymentSucceeded{OrderID: "o-3", PaymentID: "p-1"}},
		{TypePaymentFailed, `{"orderId":"o-4","reason":"insufficient funds"}`, &PaymentFailed{OrderID: "o-4", Reason: "insufficient funds"}},
		{TypeTripCreated, `{"tripId":9,"busType":"LUXURY"}`, &TripCreated{TripID: 9, BusType: "LUXURY"}},
		{TypeTripCancelled, `{"tripId":9}`, &TripCancelled{TripID: 9}},
		{TypeTripDeparted, `{"tripId":9}`, &TripDeparted{TripID: 9}},
	}
	for _, tc := range cases {
		t.Run(tc.eventType, func(t *testing.T) {
			ev, err := Decode(tc.eventType, []byte(tc.payload))
			require.NoError(t, err)
			assert.Equal(t, tc.want, ev)
			assert.Equal(t, tc.eventType, ev.EventType())
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Run("Unknown Type", func(t *testing.T) {
		_, err := Decode("seat.teleported", []byte(`{}`))
		assert.ErrorIs(t, err, ErrUnknownEventType)
	})

	t.Run("Bad JSON", func(t *testing.T) {
		_, err := Decode(TypePaymentFailed, []byte(`{"orderId":`))
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})

	t.Run("Missing Key", func(t *testing.T) {
		_, err := Decode(TypeReservationExpired, []byte(`{"tripId":3}`))
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})
}

func TestBookingFailedKey(t *testing.T) {
	assert.Equal(t, "b-1", BookingFailed{BookingID: "b-1", OrderID: "o-1"}.Key())
	assert.Equal(t, "o-1", BookingFailed{OrderID: "o-1"}.Key())
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage("evt-1", ReservationExpired{ReservationID: "r-9", TripID: 4})
	require.NoError(t, err)

	assert.Equal(t, "evt-1", msg.ID)
	assert.Equal(t, TypeReservationExpired, msg.Type)
	assert.Equal(t, "r-9", msg.Key)
	assert.JSONEq(t, `{"reservationId":"r-9","tripId":4}`, string(msg.Body))
}

func TestEncodeDeadLetter(t *testing.T) {
	body, err := encodeDeadLetter("r-1", []byte(`{"reservationId":"r-1"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"r-1","raw_payload":{"reservationId":"r-1"}}`, string(body))

	body, err = encodeDeadLetter("k", []byte("not json"))
	require.NoError(t, err)
	var dl deadLetter
	require.NoError(t, json.Unmarshal(body, &dl))
	assert.Equal(t, `"not json"`, string(dl.RawPayload))
}
