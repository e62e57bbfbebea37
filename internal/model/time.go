package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Date 是 UTC 自然日，序列化为 "YYYY-MM-DD"。
type Date time.Time

const dateFormat = "2006-01-02"

// DateOf 截取 t 在 UTC 下的日期部分。
func DateOf(t time.Time) Date {
	t = t.UTC()
	return Date(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC))
}

// Time 返回当天 UTC 零点。
func (d Date) Time() time.Time {
	return time.Time(d)
}

// DaysUntil 返回从 d 到 other 经过的整天数，other 早于 d 时为负数。
func (d Date) DaysUntil(other Date) int {
	return int(other.Time().Sub(d.Time()).Hours() / 24)
}

// Before 判断 d 是否早于 other。
func (d Date) Before(other Date) bool {
	return d.Time().Before(other.Time())
}

func (d Date) String() string {
	return d.Time().Format(dateFormat)
}

// MarshalJSON implements the json.Marshaler interface.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("\"%s\"", d.String())), nil
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t, err := time.ParseInLocation(dateFormat, s, time.UTC)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	*d = Date(t)
	return nil
}
