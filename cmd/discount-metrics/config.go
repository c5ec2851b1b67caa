package main

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-faster/errors"

	appkg "github.com/JourneymanNYC/promowell-shopify/internal/app"
	"github.com/JourneymanNYC/promowell-shopify/internal/domain/metrics"
	"github.com/JourneymanNYC/promowell-shopify/internal/pipeline"
)

// Config holds the one-shot aggregation options.
type Config struct {
	Database     appkg.DatabaseConfig
	Retry        pipeline.RetryConfig
	Shops        []string `usage:"Shop ids to aggregate (comma separated)" flag:"shops"`
	AllShops     bool     `default:"false" usage:"Aggregate every active shop" flag:"all-shops"`
	Date         string   `usage:"Day to aggregate (YYYY-MM-DD); yesterday when empty" flag:"date"`
	From         string   `usage:"First day of a range (YYYY-MM-DD)" flag:"from"`
	To           string   `usage:"Last day of a range (YYYY-MM-DD); yesterday when empty" flag:"to"`
	BackfillDays int      `default:"0" usage:"Aggregate this many days ending yesterday (60 for a full backfill)" flag:"backfill-days"`
	ActiveOnly   bool     `default:"true" usage:"Only aggregate currently active discounts" flag:"active-only"`
	Concurrency  int      `default:"4" usage:"Shops processed in parallel" flag:"concurrency"`
}

// plan is a validated run request.
type plan struct {
	// day is set for single-day runs; nil means yesterday.
	day *civil.Date
	// ranged runs cover start through end (nil end means yesterday).
	ranged bool
	start  civil.Date
	end    *civil.Date
}

func (c *Config) plan(now time.Time) (plan, error) {
	var p plan

	shops := c.Shops[:0]
	for _, s := range c.Shops {
		if s = strings.TrimSpace(s); s != "" {
			shops = append(shops, s)
		}
	}
	c.Shops = shops
	if len(c.Shops) == 0 && !c.AllShops {
		return p, errors.New("no shops selected: set --shops or --all-shops")
	}
	if len(c.Shops) > 0 && c.AllShops {
		return p, errors.New("--shops and --all-shops are mutually exclusive")
	}

	modes := 0
	for _, set := range []bool{c.Date != "", c.From != "", c.BackfillDays != 0} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		return p, errors.New("--date, --from and --backfill-days are mutually exclusive")
	}
	if c.To != "" && c.From == "" {
		return p, errors.New("--to requires --from")
	}

	switch {
	case c.Date != "":
		d, err := civil.ParseDate(c.Date)
		if err != nil {
			return p, errors.Wrap(err, "parse --date")
		}
		p.day = &d
	case c.From != "":
		d, err := civil.ParseDate(c.From)
		if err != nil {
			return p, errors.Wrap(err, "parse --from")
		}
		p.ranged, p.start = true, d
		if c.To != "" {
			end, err := civil.ParseDate(c.To)
			if err != nil {
				return p, errors.Wrap(err, "parse --to")
			}
			p.end = &end
		}
	case c.BackfillDays < 0:
		return p, errors.Errorf("--backfill-days must be positive, got %d", c.BackfillDays)
	case c.BackfillDays > 0:
		end := metrics.Yesterday(now)
		p.ranged, p.start, p.end = true, end.AddDays(1-c.BackfillDays), &end
	}
	return p, nil
}
