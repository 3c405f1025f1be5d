package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/raulgabino/panwhat-sub000/internal/domain"
)

const (
	SectionClients  = "clients"
	SectionProducts = "products"
	SectionOrders   = "orders"
)

var Sections = []string{SectionClients, SectionProducts, SectionOrders}

var ErrUnknownSection = errors.New("unknown export section")

const dateLayout = "2006-01-02 15:04"

// WriteCSV writes one section of result as CSV with a header row.
func WriteCSV(w io.Writer, section string, result domain.AnalysisResult) error {
	cw := csv.NewWriter(w)
	var rows [][]string
	switch section {
	case SectionClients:
		rows = clientRows(result.Clients)
	case SectionProducts:
		rows = productRows(result.Products)
	case SectionOrders:
		rows = orderRows(result.Orders)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSection, section)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s csv: %w", section, err)
	}
	return nil
}

// WriteCSVFiles writes clients.csv, products.csv and orders.csv into dir and
// returns their paths.
func WriteCSVFiles(dir string, result domain.AnalysisResult) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	var paths []string
	for _, section := range Sections {
		path := filepath.Join(dir, section+".csv")
		f, err := os.Create(path)
		if err != nil {
			return paths, err
		}
		err = WriteCSV(f, section, result)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func clientRows(clients []domain.ClientReport) [][]string {
	rows := [][]string{{
		"name", "total_orders", "total_pieces", "total_spent", "avg_order_value",
		"order_frequency", "response_time_hours", "satisfaction", "complaints",
		"payment_issues", "difficulty_score", "risk_level", "risk_score",
		"business_value", "preferred_products", "patterns", "last_order_date",
		"days_since_last_order", "profile_source",
	}}
	for _, c := range clients {
		preferred := make([]string, 0, len(c.PreferredProducts))
		for _, p := range c.PreferredProducts {
			preferred = append(preferred, fmt.Sprintf("%s:%d", p.Product, p.Count))
		}
		rows = append(rows, []string{
			c.Name,
			strconv.Itoa(c.TotalOrders),
			strconv.Itoa(c.TotalPieces),
			money(c.TotalSpent),
			money(c.AvgOrderValue),
			decimal(c.OrderFrequency),
			decimal(c.ResponseTimeHours),
			strconv.Itoa(c.Satisfaction),
			strconv.Itoa(c.Complaints),
			strconv.Itoa(c.PaymentIssues),
			strconv.Itoa(c.DifficultyScore),
			c.Profile.RiskLevel,
			strconv.Itoa(c.Profile.RiskScore),
			c.Profile.BusinessValue,
			strings.Join(preferred, ";"),
			strings.Join(c.Patterns, ";"),
			c.LastOrderDate.Format(dateLayout),
			strconv.Itoa(c.DaysSinceLastOrder),
			c.Profile.Source,
		})
	}
	return rows
}

func productRows(products []domain.ProductStat) [][]string {
	rows := [][]string{{"product", "count", "unit_price", "revenue", "clients", "popularity"}}
	for _, p := range products {
		rows = append(rows, []string{
			p.Product,
			strconv.Itoa(p.Count),
			money(p.UnitPrice),
			money(p.Revenue),
			strconv.Itoa(p.Clients),
			p.Popularity,
		})
	}
	return rows
}

func orderRows(orders []domain.Order) [][]string {
	rows := [][]string{{"date", "client", "total_pieces", "order_type", "estimated_value", "response_time_hours", "products", "message"}}
	for _, o := range orders {
		products := make([]string, 0, len(o.Products))
		for _, p := range o.Products {
			products = append(products, fmt.Sprintf("%s:%d", p.Product, p.Count))
		}
		rows = append(rows, []string{
			o.Date.Format(dateLayout),
			o.Client,
			strconv.Itoa(o.TotalPieces),
			o.OrderType,
			money(o.EstimatedValue),
			decimal(o.ResponseTimeHours),
			strings.Join(products, ";"),
			o.Message,
		})
	}
	return rows
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 0, 64)
}

func decimal(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
