package analysis

import (
	"fmt"
	"sort"
	"time"

	"github.com/raulgabino/panwhat-sub000/internal/domain"
)

var (
	dayLabels   = []string{"Domingo", "Lunes", "Martes", "Miércoles", "Jueves", "Viernes", "Sábado"}
	monthLabels = []string{"Enero", "Febrero", "Marzo", "Abril", "Mayo", "Junio", "Julio", "Agosto", "Septiembre", "Octubre", "Noviembre", "Diciembre"}
)

const (
	PopularityVeryHigh = "very high"
	PopularityHigh     = "high"
	PopularityMedium   = "medium"
	PopularityLow      = "low"
)

// clientPartial is everything one client task produces. Partials are merged in
// a single goroutine after every task has finished.
type clientPartial struct {
	report        domain.ClientReport
	orders        []Order
	responseSum   float64
	responseN     int
	productCounts map[string]int
	hourly        [24]int
	daily         [7]int
	monthly       [12]int
	hourlyOrders  [24]int
	dailyOrders   [7]int
	monthlyOrders [12]int
}

func newClientPartial(report domain.ClientReport, messages []Message, cs ConversationSignals) clientPartial {
	p := clientPartial{
		report:        report,
		orders:        cs.Orders,
		responseN:     len(cs.ResponseSamples),
		productCounts: make(map[string]int),
	}
	for _, h := range cs.ResponseSamples {
		p.responseSum += h
	}
	for _, m := range messages {
		p.hourly[m.Timestamp.Hour()]++
		p.daily[int(m.Timestamp.Weekday())]++
		p.monthly[int(m.Timestamp.Month())-1]++
	}
	for _, o := range cs.Orders {
		p.hourlyOrders[o.Date.Hour()]++
		p.dailyOrders[int(o.Date.Weekday())]++
		p.monthlyOrders[int(o.Date.Month())-1]++
		for _, pm := range o.Products {
			p.productCounts[pm.Product] += pm.Count
		}
	}
	return p
}

// assemble reduces client partials into the final result. Totals are sums of
// the per-client totals, so they always agree with the client list.
func assemble(partials []clientPartial, prices map[string]float64, pop PopularityBuckets, now time.Time) domain.AnalysisResult {
	res := domain.AnalysisResult{
		Clients: make([]domain.ClientReport, 0, len(partials)),
		Orders:  []domain.Order{},
		Trends: domain.Trends{
			Hourly:  make([]domain.TrendSlot, 24),
			Daily:   make([]domain.TrendSlot, 7),
			Monthly: make([]domain.TrendSlot, 12),
		},
	}
	for i := range res.Trends.Hourly {
		res.Trends.Hourly[i] = domain.TrendSlot{Index: i, Label: fmt.Sprintf("%02d:00", i)}
	}
	for i := range res.Trends.Daily {
		res.Trends.Daily[i] = domain.TrendSlot{Index: i, Label: dayLabels[i]}
	}
	for i := range res.Trends.Monthly {
		res.Trends.Monthly[i] = domain.TrendSlot{Index: i + 1, Label: monthLabels[i]}
	}

	productCounts := make(map[string]int)
	productClients := make(map[string]int)
	responseSum := 0.0
	responseN := 0

	s := &res.Summary
	for _, p := range partials {
		m := p.report.ClientMetrics
		s.TotalClients++
		s.TotalOrders += m.TotalOrders
		s.TotalPieces += m.TotalPieces
		s.TotalRevenue += m.TotalSpent
		s.TotalMessages += m.MessageCount
		if p.report.Profile.Source == domain.ProfileSourceAI {
			s.AIProfiles++
		} else {
			s.FallbackProfiles++
		}
		responseSum += p.responseSum
		responseN += p.responseN

		for i := 0; i < 24; i++ {
			res.Trends.Hourly[i].Messages += p.hourly[i]
			res.Trends.Hourly[i].Orders += p.hourlyOrders[i]
		}
		for i := 0; i < 7; i++ {
			res.Trends.Daily[i].Messages += p.daily[i]
			res.Trends.Daily[i].Orders += p.dailyOrders[i]
		}
		for i := 0; i < 12; i++ {
			res.Trends.Monthly[i].Messages += p.monthly[i]
			res.Trends.Monthly[i].Orders += p.monthlyOrders[i]
		}
		for product, count := range p.productCounts {
			productCounts[product] += count
			productClients[product]++
		}

		res.Clients = append(res.Clients, p.report)
		res.Orders = append(res.Orders, p.orders...)
	}
	s.AvgResponseTimeHours = safeDiv(responseSum, float64(responseN))
	s.AverageOrderValue = safeDiv(s.TotalRevenue, float64(s.TotalOrders))
	s.GeneratedAt = now

	sort.SliceStable(res.Clients, func(i, j int) bool {
		if res.Clients[i].TotalSpent != res.Clients[j].TotalSpent {
			return res.Clients[i].TotalSpent > res.Clients[j].TotalSpent
		}
		return res.Clients[i].Name < res.Clients[j].Name
	})
	sort.SliceStable(res.Orders, func(i, j int) bool {
		if !res.Orders[i].Date.Equal(res.Orders[j].Date) {
			return res.Orders[i].Date.Before(res.Orders[j].Date)
		}
		return res.Orders[i].Client < res.Orders[j].Client
	})

	res.Products = make([]domain.ProductStat, 0, len(productCounts))
	for product, count := range productCounts {
		price := prices[product]
		res.Products = append(res.Products, domain.ProductStat{
			Product:    product,
			Count:      count,
			Revenue:    float64(count) * price,
			UnitPrice:  price,
			Clients:    productClients[product],
			Popularity: PopularityBucket(count, pop),
		})
	}
	sort.Slice(res.Products, func(i, j int) bool {
		if res.Products[i].Count != res.Products[j].Count {
			return res.Products[i].Count > res.Products[j].Count
		}
		return res.Products[i].Product < res.Products[j].Product
	})
	return res
}

func PopularityBucket(count int, b PopularityBuckets) string {
	switch {
	case count > b.VeryHighAbove:
		return PopularityVeryHigh
	case count > b.HighAbove:
		return PopularityHigh
	case count > b.MediumAbove:
		return PopularityMedium
	default:
		return PopularityLow
	}
}
