package subscription

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// JobPrefix prefixes every scheduler job owned by this package.
const JobPrefix = "moyu_calendar_"

// GroupID identifies a group chat. It is the canonical key used in memory,
// on disk and (via JobName) in the scheduler.
type GroupID int64

func (g GroupID) String() string { return strconv.FormatInt(int64(g), 10) }

func ParseGroupID(s string) (GroupID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid group id %q: %w", s, err)
	}
	return GroupID(v), nil
}

// JobName derives the scheduler job name for a group.
func JobName(g GroupID) string { return JobPrefix + g.String() }

// Subscription is a group's standing request for a daily push at Hour:Minute.
type Subscription struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

func (s Subscription) Validate() error {
	return validateTime(s.Hour, s.Minute)
}

// String renders the push time as H:MM.
func (s Subscription) String() string { return fmt.Sprintf("%d:%02d", s.Hour, s.Minute) }

// UnmarshalJSON also accepts hour/minute stored as strings ("9", "05"),
// which older state files contain.
func (s *Subscription) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return errors.New("subscription is null")
	}
	var raw struct {
		Hour   json.RawMessage `json:"hour"`
		Minute json.RawMessage `json:"minute"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	h, err := flexInt("hour", raw.Hour)
	if err != nil {
		return err
	}
	m, err := flexInt("minute", raw.Minute)
	if err != nil {
		return err
	}
	*s = Subscription{Hour: h, Minute: m}
	return nil
}

func flexInt(field string, raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("%s: missing", field)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%s: %w", field, err)
		}
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, fmt.Errorf("%s: %w", field, err)
		}
		return v, nil
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

// Set maps every subscribed group to its push time.
type Set map[GroupID]Subscription

func (s Set) Clone() Set {
	out := make(Set, len(s))
	for g, sub := range s {
		out[g] = sub
	}
	return out
}

// Validate checks every entry; the first offending group is reported.
func (s Set) Validate() error {
	for g, sub := range s {
		if err := sub.Validate(); err != nil {
			return fmt.Errorf("group %s: %w", g, err)
		}
	}
	return nil
}

// Status is what "摸鱼 状态" reports for a group.
type Status struct {
	Enabled bool
	Hour    int
	Minute  int
}

func validateTime(hour, minute int) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("%w: hour %d out of range 0-23", ErrValidation, hour)
	}
	if minute < 0 || minute > 59 {
		return fmt.Errorf("%w: minute %d out of range 0-59", ErrValidation, minute)
	}
	return nil
}
