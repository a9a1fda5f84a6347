package models

import (
	"math"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type PurchaseGap struct {
	Timestamp string `json:"timestamp"`
	// Days since the previous purchase, nil for the first one.
	Days *int `json:"days"`
}

type PurchaseCadence struct {
	// Gaps is the series left after trimming, oldest first.
	Gaps        []PurchaseGap `json:"gaps"`
	Excluded    []PurchaseGap `json:"excluded"`
	ExcludeTopN int           `json:"exclude_top_n"`
	// AverageDays is nil when no gap remains.
	AverageDays *decimal.Decimal `json:"average_days"`
}

type purchaseInstant struct {
	Timestamp string
	at        time.Time
}

func daysBetween(from, to time.Time) int {
	return int(math.Round(to.Sub(from).Hours() / 24))
}

// computeCadence takes instants oldest first. The excludeTopN largest gaps
// are dropped before the mean is taken.
func computeCadence(instants []purchaseInstant, excludeTopN int) PurchaseCadence {
	if excludeTopN < 0 {
		excludeTopN = 0
	}
	cadence := PurchaseCadence{
		Gaps:        []PurchaseGap{},
		Excluded:    []PurchaseGap{},
		ExcludeTopN: excludeTopN,
	}

	all := make([]PurchaseGap, len(instants))
	var ranked []int
	for i, instant := range instants {
		all[i] = PurchaseGap{Timestamp: instant.Timestamp}
		if i == 0 {
			continue
		}
		days := daysBetween(instants[i-1].at, instant.at)
		all[i].Days = &days
		ranked = append(ranked, i)
	}

	slices.SortStableFunc(ranked, func(a, b int) int {
		return *all[b].Days - *all[a].Days
	})
	excluded := map[int]bool{}
	for _, idx := range ranked[:min(excludeTopN, len(ranked))] {
		excluded[idx] = true
	}

	sum, count := 0, 0
	for i, gap := range all {
		if excluded[i] {
			cadence.Excluded = append(cadence.Excluded, gap)
			continue
		}
		cadence.Gaps = append(cadence.Gaps, gap)
		if gap.Days != nil {
			sum += *gap.Days
			count++
		}
	}
	if count > 0 {
		avg := decimal.NewFromInt(int64(sum)).Div(decimal.NewFromInt(int64(count)))
		cadence.AverageDays = &avg
	}
	return cadence
}
