// Package aggregate rolls finalized sessions up into period buckets.
// It computes everything from index entries, never loading session
// bodies, so rollups stay cheap over large histories.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/janekbaraniewski/tokenaudit/internal/storage"
)

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

type GroupBy string

const (
	GroupNone     GroupBy = ""
	GroupProject  GroupBy = "project"
	GroupPlatform GroupBy = "platform"
)

// Bucket is one period's totals, optionally split by group.
type Bucket struct {
	PeriodStart time.Time `json:"period_start"`
	Label       string    `json:"label"`
	Group       string    `json:"group,omitempty"`
	Sessions    int       `json:"sessions"`
	TotalTokens int64     `json:"total_tokens"`
	CostUSD     float64   `json:"cost_usd"`
	CallCount   int       `json:"call_count"`
	SmellCount  int       `json:"smell_count"`
}

// periodStart truncates a timestamp to its bucket origin. Weeks start
// on Monday.
func periodStart(ts time.Time, period Period) time.Time {
	ts = ts.UTC()
	switch period {
	case PeriodWeekly:
		day := ts.Truncate(24 * time.Hour)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case PeriodMonthly:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return ts.Truncate(24 * time.Hour)
	}
}

func periodLabel(start time.Time, period Period) string {
	switch period {
	case PeriodWeekly:
		year, week := start.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case PeriodMonthly:
		return start.Format("2006-01")
	default:
		return start.Format("2006-01-02")
	}
}

func groupKey(e storage.IndexEntry, by GroupBy) string {
	switch by {
	case GroupProject:
		return e.Project
	case GroupPlatform:
		return string(e.Platform)
	default:
		return ""
	}
}

// Rollup buckets index entries by period and optional group, ordered by
// period then group.
func Rollup(entries []storage.IndexEntry, period Period, by GroupBy) ([]Bucket, error) {
	switch period {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
	default:
		return nil, fmt.Errorf("aggregate: unknown period %q", period)
	}
	switch by {
	case GroupNone, GroupProject, GroupPlatform:
	default:
		return nil, fmt.Errorf("aggregate: unknown grouping %q", by)
	}

	type key struct {
		start time.Time
		group string
	}
	groups := lo.GroupBy(entries, func(e storage.IndexEntry) key {
		return key{periodStart(e.StartedAt, period), groupKey(e, by)}
	})

	buckets := make([]Bucket, 0, len(groups))
	for k, es := range groups {
		b := Bucket{
			PeriodStart: k.start,
			Label:       periodLabel(k.start, period),
			Group:       k.group,
			Sessions:    len(es),
		}
		for _, e := range es {
			b.TotalTokens += e.TotalTokens
			b.CostUSD += e.CostUSD
			b.CallCount += e.CallCount
			b.SmellCount += e.SmellCount
		}
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		if !buckets[i].PeriodStart.Equal(buckets[j].PeriodStart) {
			return buckets[i].PeriodStart.Before(buckets[j].PeriodStart)
		}
		return buckets[i].Group < buckets[j].Group
	})
	return buckets, nil
}
