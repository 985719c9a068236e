package indexer

import (
	"fmt"
	"strconv"
	"strings"
)

// Timestamp is a hybrid logical clock value as emitted in the "updated"
// field of a changefeed row: "<wall nanos>.<logical>", for example
// "1700000000123456789.0000000001".
type Timestamp struct {
	Wall    int64
	Logical int64
}

func ParseTimestamp(s string) (Timestamp, error) {
	wall, logical, found := strings.Cut(strings.TrimSpace(s), ".")
	w, err := strconv.ParseInt(wall, 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	ts := Timestamp{Wall: w}
	if found && logical != "" {
		l, err := strconv.ParseInt(logical, 10, 64)
		if err != nil {
			return Timestamp{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
		}
		ts.Logical = l
	}
	return ts, nil
}

func (t Timestamp) Before(o Timestamp) bool {
	if t.Wall != o.Wall {
		return t.Wall < o.Wall
	}
	return t.Logical < o.Logical
}

func (t Timestamp) IsZero() bool {
	return t.Wall == 0 && t.Logical == 0
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%010d", t.Wall, t.Logical)
}
