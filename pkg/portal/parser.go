package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/raterudder/aigueshorta/pkg/log"
	"github.com/raterudder/aigueshorta/pkg/normalize"
	"github.com/raterudder/aigueshorta/pkg/types"
)

// ResponseParser turns the hourly data endpoint's JSON into records.
type ResponseParser struct {
	dates *normalize.DateTimeNormalizer
}

// NewResponseParser returns a parser that reads dates with dates.
func NewResponseParser(dates *normalize.DateTimeNormalizer) *ResponseParser {
	return &ResponseParser{dates: dates}
}

// fieldString returns a JSON scalar as a string. Numbers are formatted without
// exponent so they round-trip through normalize.ParseNumber.
func fieldString(entry map[string]any, key string) (string, bool) {
	switch v := entry[key].(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

// ParseRecords decodes body and returns one record per usable entry, in input
// order. Entries without a date and time, or whose date can't be read, are
// skipped. Only a body that isn't a JSON object is an error; an object without
// a consumos list is an empty result.
func (p *ResponseParser) ParseRecords(ctx context.Context, body []byte) ([]types.ConsumptionRecord, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataFormat, err)
	}
	// null decodes into a nil map without error
	if payload == nil {
		return nil, fmt.Errorf("%w: response is not an object", ErrDataFormat)
	}
	var consumos []json.RawMessage
	if raw, ok := payload["consumos"]; ok {
		if err := json.Unmarshal(raw, &consumos); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "consumos is not a list", slog.String("consumos", truncate(raw, 100)))
			return nil, nil
		}
	}
	if consumos == nil {
		log.Ctx(ctx).WarnContext(ctx, "consumption response has no consumos list")
		return nil, nil
	}
	log.Ctx(ctx).DebugContext(ctx, "processing consumption entries", slog.Int("count", len(consumos)))

	records := make([]types.ConsumptionRecord, 0, len(consumos))
	for i, raw := range consumos {
		var entry map[string]any
		if err := json.Unmarshal(raw, &entry); err != nil || entry == nil {
			log.Ctx(ctx).DebugContext(ctx, "skipping non-object consumption entry", slog.Int("index", i))
			continue
		}
		date, okDate := fieldString(entry, "fechaConsumo")
		clock, okClock := fieldString(entry, "horaConsumo")
		if !okDate || !okClock || date == "" || clock == "" {
			log.Ctx(ctx).DebugContext(ctx, "skipping consumption entry without date or time", slog.Int("index", i))
			continue
		}
		ts, ok := p.dates.Combine(date, clock)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "skipping consumption entry with unreadable date", slog.Int("index", i), slog.String("date", date), slog.String("time", clock))
			continue
		}

		rec := types.ConsumptionRecord{Timestamp: ts}
		rec.Delta, rec.HasDelta = normalize.ParseValue(entry["consumo"])
		if reading, ok := normalize.ParseValue(entry["lectura"]); ok {
			rec.MeterReading = &reading
		}
		records = append(records, rec)
	}
	return records, nil
}

// Fold builds a result from records. A later record with the same timestamp
// replaces an earlier one in the series. The current reading is the reading of
// the record with the latest timestamp; on ties the later record wins.
func Fold(records []types.ConsumptionRecord) types.ConsumptionResult {
	res := types.ConsumptionResult{
		HourlySeries: make(map[time.Time]float64, len(records)),
	}
	for _, rec := range records {
		if rec.HasDelta {
			res.HourlySeries[rec.Timestamp] = rec.Delta
		}
		if rec.MeterReading == nil {
			continue
		}
		if res.LastReadingTimestamp == nil || !rec.Timestamp.Before(*res.LastReadingTimestamp) {
			ts := rec.Timestamp
			reading := *rec.MeterReading
			res.LastReadingTimestamp = &ts
			res.CurrentReading = &reading
		}
	}
	return res
}

// Parse is ParseRecords followed by Fold.
func (p *ResponseParser) Parse(ctx context.Context, body []byte) (types.ConsumptionResult, error) {
	records, err := p.ParseRecords(ctx, body)
	if err != nil {
		return types.ConsumptionResult{}, err
	}
	res := Fold(records)
	log.Ctx(ctx).InfoContext(ctx, "parsed hourly consumption", slog.Int("points", len(res.HourlySeries)), slog.Int("entries", len(records)))
	return res, nil
}
