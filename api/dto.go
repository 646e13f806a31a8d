/*
dto.go - Data Transfer Objects for API responses

PURPOSE:
  JSON shapes served to the supervision PWA and the device firmware. The
  field names are the wire contract the firmware and PWA were built
  against (total_spots, slot_id, session_id, ...), so they must not be
  renamed when the domain types change.

NAMING CONVENTION:
  - *DTO:      Resources returned to clients
  - *Response: Operation results

MONEY:
  Amounts and prices are emitted as JSON numbers (float64) because that
  is what existing clients parse. They are computed and stored as
  decimals; the float conversion happens only here.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/warp/parking-engine/parking"
)

// =============================================================================
// STATUS
// =============================================================================

type SlotDTO struct {
	ID         int    `json:"id"`
	Occupied   bool   `json:"occupied"`
	LastUpdate string `json:"last_update"`
}

type StatusDTO struct {
	TotalSpots     int       `json:"total_spots"`
	Occupied       int       `json:"occupied"`
	Available      int       `json:"available"`
	PricePerMinute float64   `json:"price_per_minute"`
	Slots          []SlotDTO `json:"slots"`
}

func toStatusDTO(st parking.Status) StatusDTO {
	slots := make([]SlotDTO, len(st.Slots))
	for i, sl := range st.Slots {
		slots[i] = SlotDTO{
			ID:         int(sl.ID),
			Occupied:   sl.Occupied,
			LastUpdate: sl.LastUpdate.UTC().Format(time.RFC3339),
		}
	}
	return StatusDTO{
		TotalSpots:     st.TotalSpots,
		Occupied:       st.Occupied,
		Available:      st.Available,
		PricePerMinute: st.PricePerMinute.InexactFloat64(),
		Slots:          slots,
	}
}

// StatusMessage is pushed to WebSocket subscribers.
type StatusMessage struct {
	Type   string    `json:"type"`
	Status StatusDTO `json:"status"`
}

// =============================================================================
// SENSOR / PLATE
// =============================================================================

type ReportSlotResponse struct {
	OK       bool `json:"ok"`
	SlotID   int  `json:"slot_id"`
	Occupied bool `json:"occupied"`
	Changed  bool `json:"changed"`
}

type PlateEntryResponse struct {
	SessionID int64 `json:"session_id"`
}

// =============================================================================
// EVENTS
// =============================================================================

type EventDTO struct {
	ID      int64  `json:"id"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
	TS      string `json:"ts"`
}

func toEventDTOs(events []parking.Event) []EventDTO {
	dtos := make([]EventDTO, len(events))
	for i, e := range events {
		dtos[i] = EventDTO{
			ID:      int64(e.ID),
			Type:    string(e.Type),
			Payload: e.Payload,
			TS:      e.Timestamp.UTC().Format(time.RFC3339Nano),
		}
	}
	return dtos
}

// =============================================================================
// SESSIONS
// =============================================================================

type SessionDTO struct {
	ID         int64     `json:"id"`
	Plate      string    `json:"plate"`
	SlotID     null.Int  `json:"slot_id"`
	StartTime  string    `json:"start_time"`
	EndTime    null.Time `json:"end_time"`
	PaidAmount *float64  `json:"paid_amount"`
	Active     bool      `json:"active"`
}

func toSessionDTO(s parking.Session) SessionDTO {
	dto := SessionDTO{
		ID:        int64(s.ID),
		Plate:     s.Plate,
		SlotID:    s.SlotID,
		StartTime: s.StartTime.UTC().Format(time.RFC3339Nano),
		EndTime:   s.EndTime,
		Active:    s.IsOpen(),
	}
	if s.IsPaid() {
		amount := s.PaidAmount.Decimal.InexactFloat64()
		dto.PaidAmount = &amount
	}
	return dto
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type PaymentResponse struct {
	Status string  `json:"status"`
	Amount float64 `json:"amount"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
