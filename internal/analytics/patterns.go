package analytics

import "time"

const (
	BucketMorning   = "morning"
	BucketAfternoon = "afternoon"
	BucketEvening   = "evening"
	BucketNight     = "night"
)

// TimeBuckets is the canonical ordering used for tie breaks.
var TimeBuckets = []string{BucketMorning, BucketAfternoon, BucketEvening, BucketNight}

// Weekdays is the canonical Monday..Sunday ordering.
var Weekdays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// BucketRate is the taken-rate of the events that fell into one bucket.
type BucketRate struct {
	Name  string  `json:"name"`
	Taken int     `json:"taken"`
	Total int     `json:"total"`
	Rate  float64 `json:"rate"`
}

type TimePatterns struct {
	Buckets []BucketRate `json:"buckets"`
	Worst   *BucketRate  `json:"worst,omitempty"`
}

type DayPatterns struct {
	Weekday BucketRate   `json:"weekday"`
	Weekend BucketRate   `json:"weekend"`
	ByDay   []BucketRate `json:"by_day"`
	Worst   *BucketRate  `json:"worst,omitempty"`
}

// TimeBucket maps an hour of day to its bucket name.
func TimeBucket(hour int) string {
	switch {
	case hour >= 6 && hour < 12:
		return BucketMorning
	case hour >= 12 && hour < 18:
		return BucketAfternoon
	case hour >= 18 && hour < 22:
		return BucketEvening
	default:
		return BucketNight
	}
}

func IsWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}

// PatternsByTime buckets events by time of day.
func PatternsByTime(events []DoseEvent) TimePatterns {
	index := make(map[string]int, len(TimeBuckets))
	buckets := make([]BucketRate, len(TimeBuckets))
	for i, name := range TimeBuckets {
		buckets[i] = BucketRate{Name: name}
		index[name] = i
	}
	for _, e := range events {
		b := &buckets[index[TimeBucket(e.ScheduledTime.Hour())]]
		b.add(e)
	}
	finish(buckets)
	return TimePatterns{Buckets: buckets, Worst: WorstBucket(buckets)}
}

// PatternsByDay buckets events into weekday/weekend and per weekday name.
func PatternsByDay(events []DoseEvent) DayPatterns {
	index := make(map[time.Weekday]int, len(Weekdays))
	days := make([]BucketRate, len(Weekdays))
	for i, d := range Weekdays {
		days[i] = BucketRate{Name: d.String()}
		index[d] = i
	}
	out := DayPatterns{
		Weekday: BucketRate{Name: "weekday"},
		Weekend: BucketRate{Name: "weekend"},
	}
	for _, e := range events {
		d := e.ScheduledTime.Weekday()
		days[index[d]].add(e)
		if IsWeekend(d) {
			out.Weekend.add(e)
		} else {
			out.Weekday.add(e)
		}
	}
	finish(days)
	out.Weekday.finish()
	out.Weekend.finish()
	out.ByDay = days
	out.Worst = WorstBucket(days)
	return out
}

// WorstBucket returns the bucket with the lowest rate among those with at
// least one event. Earlier buckets win ties. Nil when every bucket is empty.
func WorstBucket(buckets []BucketRate) *BucketRate {
	var worst *BucketRate
	for i := range buckets {
		b := buckets[i]
		if b.Total == 0 {
			continue
		}
		if worst == nil || b.Rate < worst.Rate {
			worst = &b
		}
	}
	return worst
}

func (b *BucketRate) add(e DoseEvent) {
	b.Total++
	if e.Taken {
		b.Taken++
	}
}

func (b *BucketRate) finish() {
	if b.Total > 0 {
		b.Rate = float64(b.Taken) / float64(b.Total)
	}
}

func finish(buckets []BucketRate) {
	for i := range buckets {
		buckets[i].finish()
	}
}
