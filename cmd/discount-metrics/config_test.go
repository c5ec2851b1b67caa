package main

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigPlan(t *testing.T) {
	now := time.Date(2025, 11, 5, 8, 0, 0, 0, time.UTC)
	yesterday := civil.Date{Year: 2025, Month: time.November, Day: 4}
	day := func(d int) civil.Date { return civil.Date{Year: 2025, Month: time.November, Day: d} }

	tests := []struct {
		name    string
		cfg     Config
		want    plan
		wantErr string
	}{
		{name: "default yesterday", cfg: Config{Shops: []string{"shop-1"}}, want: plan{}},
		{name: "single day", cfg: Config{Shops: []string{"shop-1"}, Date: "2025-11-02"}, want: plan{day: ptr(day(2))}},
		{name: "open range", cfg: Config{AllShops: true, From: "2025-11-01"}, want: plan{ranged: true, start: day(1)}},
		{name: "closed range", cfg: Config{AllShops: true, From: "2025-11-01", To: "2025-11-03"},
			want: plan{ranged: true, start: day(1), end: ptr(day(3))}},
		{name: "backfill", cfg: Config{AllShops: true, BackfillDays: 60},
			want: plan{ranged: true, start: yesterday.AddDays(-59), end: &yesterday}},
		{name: "no shops", cfg: Config{Shops: []string{" "}}, wantErr: "no shops selected"},
		{name: "both shop selectors", cfg: Config{Shops: []string{"a"}, AllShops: true}, wantErr: "mutually exclusive"},
		{name: "date and from", cfg: Config{AllShops: true, Date: "2025-11-01", From: "2025-11-01"}, wantErr: "mutually exclusive"},
		{name: "to without from", cfg: Config{AllShops: true, To: "2025-11-01"}, wantErr: "--to requires --from"},
		{name: "bad date", cfg: Config{AllShops: true, Date: "11/02/2025"}, wantErr: "parse --date"},
		{name: "negative backfill", cfg: Config{AllShops: true, BackfillDays: -1}, wantErr: "must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.plan(now)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func ptr(d civil.Date) *civil.Date {
	return &d
}
