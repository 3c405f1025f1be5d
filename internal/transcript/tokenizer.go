package transcript

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/raulgabino/panwhat-sub000/internal/domain"
)

type Message = domain.Message

// [H:MM AM/PM, M/D/YYYY] Sender: Content
var lineRegex = regexp.MustCompile(`^\[(\d{1,2}):(\d{2})\s?([AaPp][Mm]),\s?(\d{1,2})/(\d{1,2})/(\d{4})\]\s([^:]+):\s?(.*)$`)

// Phone exports put a narrow no-break space between the minutes and AM/PM.
var spaceNormalizer = strings.NewReplacer("\u202f", " ", "\u00a0", " ")

// Parse turns raw transcript text into messages sorted by timestamp. Lines that
// do not match the bracketed timestamp format (continuations, system notices)
// are dropped. Text without any matching line yields an empty slice.
func Parse(text, bakeryName string) []Message {
	bakery := strings.ToLower(strings.TrimSpace(bakeryName))
	var messages []Message
	for _, raw := range strings.Split(text, "\n") {
		msg, ok := parseLine(raw, bakery)
		if !ok {
			continue
		}
		messages = append(messages, msg)
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	return messages
}

func parseLine(raw, bakery string) (Message, bool) {
	line := strings.TrimSpace(spaceNormalizer.Replace(strings.TrimSuffix(raw, "\r")))
	m := lineRegex.FindStringSubmatch(line)
	if m == nil {
		return Message{}, false
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	month, _ := strconv.Atoi(m[4])
	day, _ := strconv.Atoi(m[5])
	year, _ := strconv.Atoi(m[6])
	if hour < 1 || hour > 12 || minute > 59 || month < 1 || month > 12 || day < 1 {
		return Message{}, false
	}
	hour = to24Hour(hour, strings.EqualFold(m[3], "pm"))

	ts := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
	if ts.Day() != day {
		// 2/30 and friends roll over into the next month; reject them.
		return Message{}, false
	}

	sender := strings.TrimSpace(m[7])
	if sender == "" {
		return Message{}, false
	}
	return Message{
		Timestamp: ts,
		Sender:    sender,
		Content:   strings.TrimSpace(m[8]),
		IsClient:  !IsBakery(sender, bakery),
	}, true
}

// 12 AM is midnight, 12 PM stays noon.
func to24Hour(hour int, pm bool) int {
	switch {
	case hour == 12 && !pm:
		return 0
	case hour == 12 && pm:
		return 12
	case pm:
		return hour + 12
	default:
		return hour
	}
}

// IsBakery reports whether the sender name contains the bakery's name, case-insensitively.
func IsBakery(sender, bakeryName string) bool {
	bakery := strings.ToLower(strings.TrimSpace(bakeryName))
	if bakery == "" {
		return false
	}
	return strings.Contains(strings.ToLower(sender), bakery)
}

// Format renders a message back into the transcript line format accepted by Parse.
func Format(m Message) string {
	hour := m.Timestamp.Hour()
	suffix := "AM"
	if hour >= 12 {
		suffix = "PM"
	}
	hour12 := hour % 12
	if hour12 == 0 {
		hour12 = 12
	}
	return fmt.Sprintf("[%d:%02d %s, %d/%d/%d] %s: %s",
		hour12, m.Timestamp.Minute(), suffix,
		int(m.Timestamp.Month()), m.Timestamp.Day(), m.Timestamp.Year(),
		m.Sender, m.Content)
}

func FormatAll(messages []Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(Format(m))
	}
	return b.String()
}

// WallClock re-expresses t as the naive wall-clock time Parse produces, so it
// can be compared with message timestamps.
func WallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
