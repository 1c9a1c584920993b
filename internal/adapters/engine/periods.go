package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/manthysbr/cropyield/internal/core/domain"
)

type periodKind int

const (
	kindIndex periodKind = iota
	kindYear
	kindQuarter
	kindMonth
)

// point is a history observation placed on an integer time axis.
type point struct {
	t     int
	label string
	value float64
}

// parsePeriod maps "2021", "2021-Q3" and "2021-07" onto ordinals that
// differ by one between adjacent periods of the same kind.
func parsePeriod(label string) (int, periodKind, bool) {
	label = strings.TrimSpace(label)
	if len(label) == 4 {
		if y, err := strconv.Atoi(label); err == nil {
			return y, kindYear, true
		}
		return 0, kindIndex, false
	}
	year, rest, found := strings.Cut(label, "-")
	if !found || len(year) != 4 {
		return 0, kindIndex, false
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return 0, kindIndex, false
	}
	if q, ok := strings.CutPrefix(strings.ToUpper(rest), "Q"); ok {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > 4 {
			return 0, kindIndex, false
		}
		return y*4 + n - 1, kindQuarter, true
	}
	m, err := strconv.Atoi(rest)
	if err != nil || m < 1 || m > 12 {
		return 0, kindIndex, false
	}
	return y*12 + m - 1, kindMonth, true
}

func formatPeriod(t int, kind periodKind) string {
	switch kind {
	case kindYear:
		return strconv.Itoa(t)
	case kindQuarter:
		return fmt.Sprintf("%d-Q%d", t/4, t%4+1)
	case kindMonth:
		return fmt.Sprintf("%d-%02d", t/12, t%12+1)
	}
	return strconv.Itoa(t)
}

// normalize orders history chronologically and keeps the last value seen
// for a repeated period. Labels of mixed or unknown format fall back to
// their position in the input.
func normalize(history []domain.HistoryPoint) ([]point, periodKind) {
	kind := kindIndex
	parsed := make([]point, 0, len(history))
	uniform := true
	for i, h := range history {
		t, k, ok := parsePeriod(h.Period)
		if !ok || (i > 0 && k != kind) {
			uniform = false
			break
		}
		kind = k
		parsed = append(parsed, point{t: t, label: h.Period, value: h.Value})
	}
	if !uniform || len(parsed) == 0 {
		kind = kindIndex
		parsed = parsed[:0]
		for i, h := range history {
			parsed = append(parsed, point{t: i + 1, label: h.Period, value: h.Value})
		}
	}

	byT := make(map[int]int, len(parsed))
	out := make([]point, 0, len(parsed))
	for _, p := range parsed {
		if idx, seen := byT[p.t]; seen {
			out[idx] = p
			continue
		}
		byT[p.t] = len(out)
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].t < out[j].t })
	return out, kind
}
