package analysis

import (
	"math"
	"sort"
	"time"

	"github.com/raulgabino/panwhat-sub000/internal/domain"
)

type ClientMetrics = domain.ClientMetrics

// ConversationSignals folds the per-message signals of one client.
type ConversationSignals struct {
	Orders          []Order
	Compliments     int
	Complaints      int
	PaymentIssues   int
	NoResponseDays  int
	ResponseSamples []float64
	ClientMessages  int
}

// ScanConversation runs the extractor over the client-authored messages of one
// conversation, in order, handing each one its immediate predecessor.
func (e *Extractor) ScanConversation(messages []Message) ConversationSignals {
	var cs ConversationSignals
	for i, msg := range messages {
		if !msg.IsClient {
			continue
		}
		cs.ClientMessages++
		var prev *Message
		if i > 0 {
			prev = &messages[i-1]
		}
		sig := e.Extract(msg, prev)
		cs.Compliments += sig.Compliments
		cs.Complaints += sig.Complaints
		if sig.PaymentIssue {
			cs.PaymentIssues++
		}
		if sig.NoResponse {
			cs.NoResponseDays++
		}
		if sig.Order != nil {
			cs.Orders = append(cs.Orders, *sig.Order)
			if sig.ResponseMeasured {
				cs.ResponseSamples = append(cs.ResponseSamples, sig.Order.ResponseTimeHours)
			}
		}
	}
	return cs
}

// ComputeMetrics derives a client's metrics from its conversation and signals.
// It has no side effects and always recomputes every field. now is only used
// as the last-order date of clients without orders.
func ComputeMetrics(name string, messages []Message, cs ConversationSignals, t Tuning, now time.Time) ClientMetrics {
	m := ClientMetrics{
		Name:               name,
		MessageCount:       len(messages),
		ClientMessageCount: cs.ClientMessages,
		TotalOrders:        len(cs.Orders),
		Complaints:         cs.Complaints,
		Compliments:        cs.Compliments,
		Satisfaction:       cs.Compliments - cs.Complaints,
		PaymentIssues:      cs.PaymentIssues,
		NoResponseDays:     cs.NoResponseDays,
		ResponseSamples:    len(cs.ResponseSamples),
		LastOrderDate:      now,
	}

	productCounts := make(map[string]int)
	productPieces := 0
	for _, o := range cs.Orders {
		m.TotalPieces += o.TotalPieces
		m.TotalSpent += o.EstimatedValue
		for _, p := range o.Products {
			productCounts[p.Product] += p.Count
			productPieces += p.Count
		}
	}

	m.AvgOrderValue = safeDiv(m.TotalSpent, float64(m.TotalOrders))
	m.AvgPiecesPerOrder = safeDiv(float64(m.TotalPieces), float64(m.TotalOrders))
	m.MessagesPerOrder = safeDiv(float64(m.MessageCount), float64(m.TotalOrders))

	sum := 0.0
	for _, h := range cs.ResponseSamples {
		sum += h
	}
	m.ResponseTimeHours = safeDiv(sum, float64(len(cs.ResponseSamples)))

	if len(cs.Orders) > 0 {
		first, last := cs.Orders[0].Date, cs.Orders[0].Date
		for _, o := range cs.Orders[1:] {
			if o.Date.Before(first) {
				first = o.Date
			}
			if o.Date.After(last) {
				last = o.Date
			}
		}
		m.FirstOrderDate = first
		m.LastOrderDate = last
		m.OrderFrequency = OrderFrequency(len(cs.Orders), first, last)
	}
	if days := int(now.Sub(m.LastOrderDate).Hours() / 24); days > 0 {
		m.DaysSinceLastOrder = days
	}

	m.PreferredProducts = PreferredProducts(productCounts, productPieces, 5)
	m.DifficultyScore = DifficultyScore(m, t.Difficulty)
	m.Patterns = Patterns(m, t.Patterns)
	return m
}

// OrderFrequency is orders per week over the span between first and last
// order. Fewer than two orders, or a zero-length span, gives 0.
func OrderFrequency(orders int, first, last time.Time) float64 {
	if orders < 2 {
		return 0
	}
	days := last.Sub(first).Hours() / 24
	return safeDiv(float64(orders), days) * 7
}

// PreferredProducts returns the top n products by count, ties broken by name,
// each with its rounded share of the client's detected product pieces.
func PreferredProducts(counts map[string]int, total, n int) []domain.PreferredProduct {
	out := make([]domain.PreferredProduct, 0, len(counts))
	for product, count := range counts {
		out = append(out, domain.PreferredProduct{
			Product:    product,
			Count:      count,
			Percentage: int(math.Round(safeDiv(float64(count)*100, float64(total)))),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Product < out[j].Product
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// DifficultyScore is a weighted sum of operational cost indicators.
func DifficultyScore(m ClientMetrics, w DifficultyWeights) int {
	score := 0
	if m.MessagesPerOrder > w.MessagesPerOrderAbove {
		score += w.MessagesPerOrder
	}
	if m.ResponseTimeHours > w.SlowResponseAbove {
		score += w.SlowResponse
	}
	score += w.PaymentIssue * m.PaymentIssues
	if m.NoResponseDays > w.NoResponseAbove {
		score += w.NoResponse
	}
	if m.OrderFrequency < w.LowFrequencyBelow {
		score += w.LowFrequency
	}
	if m.Complaints > m.Compliments {
		score += w.Unsatisfied
	}
	return score
}

const (
	PatternLargeOrders  = "Pedidos grandes"
	PatternFrequent     = "Cliente frecuente"
	PatternSlowResponse = "Respuesta lenta"
	PatternPayment      = "Problemas de pago"
	PatternInactive     = "Inactividad frecuente"
	PatternSatisfied    = "Cliente satisfecho"
	PatternDissatisfied = "Cliente insatisfecho"
	PatternHighValue    = "Alto valor"
)

// Patterns tags a client with descriptive labels. Tags feed nothing else.
func Patterns(m ClientMetrics, p PatternThresholds) []string {
	tags := []string{}
	if m.AvgPiecesPerOrder >= p.LargeOrdersAvgPieces && m.TotalOrders > 0 {
		tags = append(tags, PatternLargeOrders)
	}
	if m.OrderFrequency > p.FrequentPerWeek {
		tags = append(tags, PatternFrequent)
	}
	if m.ResponseTimeHours > p.SlowResponseHours {
		tags = append(tags, PatternSlowResponse)
	}
	if m.PaymentIssues > 0 {
		tags = append(tags, PatternPayment)
	}
	if m.NoResponseDays > p.InactivityNoDays {
		tags = append(tags, PatternInactive)
	}
	if m.Satisfaction > p.SatisfiedAbove {
		tags = append(tags, PatternSatisfied)
	}
	if m.Satisfaction < p.DissatisfiedBelow {
		tags = append(tags, PatternDissatisfied)
	}
	if m.TotalSpent > p.HighValueSpent {
		tags = append(tags, PatternHighValue)
	}
	return tags
}

func safeDiv(num, den float64) float64 {
	if den == 0 || math.IsNaN(den) {
		return 0
	}
	r := num / den
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}
