package processor

import "github.com/samber/lo"

// Stats are simple averages over stored discount records. A nil average
// means no record carried that value.
type Stats struct {
	Count        int      `json:"count"`
	AvgDiscount  *float64 `json:"avgDiscount"`
	AvgLowPrice  *float64 `json:"avgLowPrice"`
	AvgHighPrice *float64 `json:"avgHighPrice"`
	MatineeCount int      `json:"matineeCount"`
	EveningCount int      `json:"eveningCount"`
}

// StatRecord is the slice of a discount record the averages read.
type StatRecord struct {
	DiscountPercent float64
	LowPrice        *float64
	HighPrice       *float64
	IsMatinee       bool
}

// MatineeOnly and EveningOnly are ready-made filters for Averages.
func MatineeOnly(r StatRecord) bool { return r.IsMatinee }
func EveningOnly(r StatRecord) bool { return !r.IsMatinee }

// Averages computes Stats over the records accepted by filter (all records
// when filter is nil).
func Averages(records []StatRecord, filter func(StatRecord) bool) Stats {
	if filter != nil {
		records = lo.Filter(records, func(r StatRecord, _ int) bool { return filter(r) })
	}

	st := Stats{Count: len(records)}
	if len(records) == 0 {
		return st
	}

	st.AvgDiscount = mean(lo.Map(records, func(r StatRecord, _ int) float64 { return r.DiscountPercent }))
	st.AvgLowPrice = mean(lo.FilterMap(records, func(r StatRecord, _ int) (float64, bool) {
		if r.LowPrice == nil {
			return 0, false
		}
		return *r.LowPrice, true
	}))
	st.AvgHighPrice = mean(lo.FilterMap(records, func(r StatRecord, _ int) (float64, bool) {
		if r.HighPrice == nil {
			return 0, false
		}
		return *r.HighPrice, true
	}))
	st.MatineeCount = lo.CountBy(records, MatineeOnly)
	st.EveningCount = st.Count - st.MatineeCount
	return st
}

func mean(vals []float64) *float64 {
	if len(vals) == 0 {
		return nil
	}
	m := lo.Sum(vals) / float64(len(vals))
	return &m
}
