package schedule

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// Field is the set of values a rule accepts for one time unit.
//
// The zero Field matches every value. Exact, Between and Union build
// restricted fields; a restricted field with no values never matches.
type Field struct {
	set        uint64
	restricted bool
}

// Every matches any value of the unit.
func Every() Field { return Field{} }

// Exact matches only v.
func Exact(v int) Field { return Between(v, v) }

// Between matches lo..hi inclusive. lo > hi yields a field that matches nothing.
func Between(lo, hi int) Field {
	f := Field{restricted: true}
	for v := max(lo, 0); v <= min(hi, 63); v++ {
		f.set |= 1 << uint(v)
	}
	return f
}

// Union matches values of either field.
func (f Field) Union(o Field) Field {
	if !f.restricted || !o.restricted {
		return Every()
	}
	return Field{set: f.set | o.set, restricted: true}
}

func (f Field) IsEvery() bool { return !f.restricted }

func (f Field) Matches(v int) bool {
	if !f.restricted {
		return true
	}
	return v >= 0 && v < 64 && f.set&(1<<uint(v)) != 0
}

// String renders the field in cron syntax: "*", "5", "6-23", "0,15,30-35".
func (f Field) String() string {
	if !f.restricted {
		return "*"
	}
	if f.set == 0 {
		return "none"
	}
	var parts []string
	for v := 0; v < 64; {
		if f.set&(1<<uint(v)) == 0 {
			v++
			continue
		}
		end := v
		for end+1 < 64 && f.set&(1<<uint(end+1)) != 0 {
			end++
		}
		if end == v {
			parts = append(parts, strconv.Itoa(v))
		} else {
			parts = append(parts, strconv.Itoa(v)+"-"+strconv.Itoa(end))
		}
		v = end + 1
	}
	return strings.Join(parts, ",")
}

type unit struct {
	name     string
	min, max int
}

var (
	unitSecond  = unit{"second", 0, 59}
	unitMinute  = unit{"minute", 0, 59}
	unitHour    = unit{"hour", 0, 23}
	unitDay     = unit{"day", 1, 31}
	unitMonth   = unit{"month", 1, 12}
	unitWeekday = unit{"weekday", 0, 6}
)

func (u unit) mask() uint64 {
	return Between(u.min, u.max).set
}

func (f Field) check(u unit) error {
	if !f.restricted {
		return nil
	}
	if f.set&u.mask() == 0 {
		return fmt.Errorf("%w: %s matches no value in %d-%d", ErrUnsatisfiableRule, u.name, u.min, u.max)
	}
	if extra := f.set &^ u.mask(); extra != 0 {
		return fmt.Errorf("%w: %s value %d out of range %d-%d", ErrUnsatisfiableRule, u.name, bits.TrailingZeros64(extra), u.min, u.max)
	}
	return nil
}
