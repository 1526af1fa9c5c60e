package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type Parser struct {
	parser cron.Parser
}

// NewParser accepts the standard five-field cron grammar with an
// optional leading seconds field.
func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}

	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return &schedule{sched: sched, loc: loc}, nil
}

type Schedule interface {
	// Next returns the first fire time strictly after the given instant.
	Next(after time.Time) time.Time
	// Prev returns the last fire time strictly before the given instant,
	// or the zero time when none falls within the lookback window.
	Prev(before time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}

// prevLookback bounds the backwards search. Five years comfortably covers
// every expressible five/six-field expression.
const prevLookback = 5

func (s *schedule) Prev(before time.Time) time.Time {
	before = before.In(s.loc)
	lo := before.AddDate(-prevLookback, 0, 0)
	hi := before

	if n := s.sched.Next(lo); n.IsZero() || !n.Before(before) {
		return time.Time{}
	}

	// Next is monotone in its argument, so binary search for the largest
	// lo with Next(lo) < before; Next(lo) is then the previous fire time.
	for hi.Sub(lo) > time.Second {
		mid := lo.Add(hi.Sub(lo) / 2)
		if n := s.sched.Next(mid); !n.IsZero() && n.Before(before) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return s.sched.Next(lo)
}
