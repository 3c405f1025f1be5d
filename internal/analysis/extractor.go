package analysis

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/raulgabino/panwhat-sub000/internal/domain"
)

type Message = domain.Message
type Order = domain.Order
type ProductMention = domain.ProductMention

const (
	OrderLarge  = "large"
	OrderMedium = "medium"
	OrderSmall  = "small"
)

// MessageSignals is everything the extractor learns from one client message.
type MessageSignals struct {
	Compliments  int
	Complaints   int
	PaymentIssue bool
	NoResponse   bool
	// Order is nil when the message carries no product mention and no piece count.
	Order *Order
	// ResponseMeasured is true when Order.ResponseTimeHours came from a bakery cue.
	ResponseMeasured bool
}

// Extractor runs the per-message heuristics with a fixed tuning.
type Extractor struct {
	t *compiledTuning
}

func NewExtractor(t Tuning) (*Extractor, error) {
	ct, err := t.compile()
	if err != nil {
		return nil, err
	}
	return &Extractor{t: ct}, nil
}

// Extract scans one client-authored message. prev is the message immediately
// before it in the client's conversation, or nil.
func (e *Extractor) Extract(msg Message, prev *Message) MessageSignals {
	var sig MessageSignals
	lower := strings.ToLower(msg.Content)

	for _, re := range e.t.positive {
		sig.Compliments += countWord(re, lower)
	}
	for _, re := range e.t.negative {
		sig.Complaints += countWord(re, lower)
	}

	pieces := 0
	explicitPieces := false
	if m := piecesRegex.FindStringSubmatch(msg.Content); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			pieces = n
			explicitPieces = true
		}
	}

	var mentions []ProductMention
	value := 0.0
	for _, p := range e.t.products {
		count := 0
		for _, m := range p.re.FindAllStringSubmatch(msg.Content, -1) {
			n := 1
			if m[1] != "" {
				if parsed, err := strconv.Atoi(m[1]); err == nil && parsed > 0 {
					n = parsed
				}
			}
			count += n
		}
		if count == 0 {
			continue
		}
		mentions = append(mentions, ProductMention{Product: p.name, Count: count})
		if !explicitPieces {
			pieces += count
		}
		value += float64(count) * p.unitPrice
	}

	if price, ok := e.explicitPrice(msg.Content); ok && price > value {
		value = price
	}

	sig.PaymentIssue = containsAny(lower, e.t.PaymentIssueWords)
	sig.NoResponse = e.isNoResponse(lower)

	if pieces <= 0 && len(mentions) == 0 {
		return sig
	}
	if value == 0 && pieces > 0 {
		value = float64(pieces) * e.t.AverageUnitPrice
	}

	order := &Order{
		Date:           msg.Timestamp,
		Client:         msg.Sender,
		Products:       mentions,
		TotalPieces:    pieces,
		OrderType:      e.orderType(pieces),
		EstimatedValue: value,
		DayOfWeek:      int(msg.Timestamp.Weekday()),
		Hour:           msg.Timestamp.Hour(),
		Message:        msg.Content,
	}
	if hours, ok := e.responseTime(msg, prev); ok {
		order.ResponseTimeHours = hours
		sig.ResponseMeasured = true
	}
	sig.Order = order
	return sig
}

// explicitPrice returns the largest currency-looking amount above the minimum
// order threshold. Numbers that are part of a date or time, or that count
// pieces, are skipped.
func (e *Extractor) explicitPrice(content string) (float64, bool) {
	best := 0.0
	found := false
	for _, loc := range priceRegex.FindAllStringIndex(content, -1) {
		start, end := loc[0], loc[1]
		if start > 0 && strings.ContainsRune("/:", rune(content[start-1])) {
			continue
		}
		if end < len(content) && strings.ContainsRune("/:", rune(content[end])) {
			continue
		}
		rest := strings.ToLower(strings.TrimSpace(content[end:]))
		if strings.HasPrefix(rest, "pieza") {
			continue
		}
		if !strings.ContainsAny(content[start:end], "$,") && !e.nearPriceWord(content, start, end) {
			continue
		}
		raw := strings.NewReplacer("$", "", ",", "", " ", "").Replace(content[start:end])
		amount, err := strconv.ParseFloat(raw, 64)
		if err != nil || amount <= e.t.MinExplicitPrice {
			continue
		}
		if amount > best {
			best = amount
			found = true
		}
	}
	return best, found
}

// nearPriceWord reports whether the word right before or right after
// content[start:end] is a configured price word.
func (e *Extractor) nearPriceWord(content string, start, end int) bool {
	if before := strings.Fields(content[:start]); len(before) > 0 && e.t.priceWords[trimWord(before[len(before)-1])] {
		return true
	}
	after := strings.Fields(content[end:])
	return len(after) > 0 && e.t.priceWords[trimWord(after[0])]
}

func trimWord(w string) string {
	return strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}))
}

// responseTime measures how long the client took to answer the bakery's
// "how many pieces" cue. It only counts when prev is a bakery message carrying
// the cue and the gap fits inside the response window.
func (e *Extractor) responseTime(msg Message, prev *Message) (float64, bool) {
	if prev == nil || prev.IsClient {
		return 0, false
	}
	if !containsAny(strings.ToLower(prev.Content), e.t.ResponseCues) {
		return 0, false
	}
	gap := msg.Timestamp.Sub(prev.Timestamp)
	window := time.Duration(e.t.ResponseWindowHours * float64(time.Hour))
	if gap < 0 || gap > window {
		return 0, false
	}
	return gap.Hours(), true
}

func (e *Extractor) isNoResponse(lower string) bool {
	trimmed := strings.TrimSpace(lower)
	for _, phrase := range e.t.NoResponsePhrases {
		if trimmed == strings.ToLower(strings.TrimSpace(phrase)) {
			return true
		}
	}
	word := strings.ToLower(strings.TrimSpace(e.t.NoResponseWord))
	if word == "" {
		return false
	}
	return len([]rune(trimmed)) < e.t.NoResponseMaxChars && strings.Contains(trimmed, word)
}

func (e *Extractor) orderType(pieces int) string {
	switch {
	case pieces >= e.t.LargeOrderPieces:
		return OrderLarge
	case pieces >= e.t.MediumOrderPieces:
		return OrderMedium
	default:
		return OrderSmall
	}
}

// UnitPrice returns the configured unit price for a product name.
func (e *Extractor) UnitPrice(product string) float64 {
	return e.t.prices[product]
}

func (e *Extractor) Tuning() Tuning {
	return e.t.Tuning
}

func containsAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
