package types

import (
	"fmt"
	"time"
)

// PortalDateLayout is the DD/MM/YYYY format the portal expects for date
// query parameters.
const PortalDateLayout = "02/01/2006"

// Credentials are the portal username and password. They are never persisted.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"-"`
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// LastDays returns the range that ends on the day of now and starts days
// before it.
func LastDays(now time.Time, days int) DateRange {
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return DateRange{
		Start: end.AddDate(0, 0, -days),
		End:   end,
	}
}

// Validate returns an error if the range is empty or inverted.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("date range requires a start and an end")
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("date range end %s is before start %s", r.End.Format(time.DateOnly), r.Start.Format(time.DateOnly))
	}
	return nil
}

// ConsumptionRecord is one hourly entry reported by the portal.
type ConsumptionRecord struct {
	Timestamp time.Time `json:"timestamp"`
	// Delta is the consumption during the hour. HasDelta is false when the
	// portal sent no consumption value for the hour.
	Delta    float64 `json:"delta"`
	HasDelta bool    `json:"-"`
	// MeterReading is the cumulative counter value, if reported.
	MeterReading *float64 `json:"meterReading,omitempty"`
}

// ConsumptionResult is the normalized outcome of one fetch.
type ConsumptionResult struct {
	Range                DateRange             `json:"range"`
	CurrentReading       *float64              `json:"currentReading,omitempty"`
	LastReadingTimestamp *time.Time            `json:"lastReadingTimestamp,omitempty"`
	HourlySeries         map[time.Time]float64 `json:"hourlySeries"`
	ContractNumber       string                `json:"contractNumber,omitempty"`
	Address              string                `json:"address,omitempty"`
}

// Contract is a supply contract listed on the portal.
type Contract struct {
	Number  string `json:"contractNumber"`
	Address string `json:"address,omitempty"`
}
