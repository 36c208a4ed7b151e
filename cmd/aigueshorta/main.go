package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"github.com/raterudder/aigueshorta/pkg/common"
	"github.com/raterudder/aigueshorta/pkg/log"
	"github.com/raterudder/aigueshorta/pkg/portal"
	"github.com/raterudder/aigueshorta/pkg/types"
)

type output struct {
	Consumption types.ConsumptionResult `json:"consumption"`
	Contracts   []types.Contract        `json:"contracts,omitempty"`
}

// parseRange builds the requested range from the --start and --end flags.
// Both empty means the client's default window. A missing end is today and a
// missing start keeps the default window's length.
func parseRange(start, end string, def types.DateRange) (*types.DateRange, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	loc := def.End.Location()
	r := def
	if end != "" {
		t, err := time.ParseInLocation(types.PortalDateLayout, end, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid end date %q: %w", end, err)
		}
		r.Start = t.AddDate(0, 0, -daysBetween(def.Start, def.End))
		r.End = t
	}
	if start != "" {
		t, err := time.ParseInLocation(types.PortalDateLayout, start, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid start date %q: %w", start, err)
		}
		r.Start = t
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Round(24*time.Hour) / (24 * time.Hour))
}

func main() {
	// init packages
	c := portal.Configured()

	start := lflag.String("start", "", "First day to fetch (DD/MM/YYYY), defaults to the configured window")
	end := lflag.String("end", "", "Last day to fetch (DD/MM/YYYY), defaults to today")
	withContracts := lflag.Bool("contracts", false, "Also list the contracts on the account")

	// parse flags
	lflag.Configure()

	// lflag automatically sets llog's level, but we need to set the slog level
	level, err := log.LevelFromLLog(llog.GetLevel())
	if err != nil {
		panic(err)
	}
	log.SetDefaultLogLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	log.Ctx(ctx).DebugContext(ctx, "logger configured", slog.String("level", level.String()), slog.String("version", common.Version()))

	r, err := parseRange(*start, *end, c.DefaultRange())
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid date range", slog.Any("error", err))
		os.Exit(2)
	}

	var out output
	out.Consumption, err = c.FetchConsumption(ctx, r)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch consumption", slog.Any("error", err), slog.String("kind", portal.Kind(err)))
		os.Exit(1)
	}

	if *withContracts {
		out.Contracts, err = c.Contracts(ctx)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to list contracts", slog.Any("error", err))
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to write output", slog.Any("error", err))
		os.Exit(1)
	}
}
