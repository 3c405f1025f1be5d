package slackbot

import (
	"fmt"
	"strings"

	"github.com/raulgabino/panwhat-sub000/internal/domain"
	"github.com/raulgabino/panwhat-sub000/internal/storage/sqlite"
)

func formatMoney(v float64) string {
	return fmt.Sprintf("$%.0f", v)
}

func formatTokenCount(tokens int64) string {
	if tokens < 1000 {
		return fmt.Sprintf("%d", tokens)
	}
	rounded := (tokens + 50) / 100
	whole := rounded / 10
	decimal := rounded % 10
	if decimal == 0 {
		return fmt.Sprintf("%dk", whole)
	}
	return fmt.Sprintf("%d.%dk", whole, decimal)
}

func formatJobStatus(job domain.Job) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*Job* `%s`\n", job.ID))
	sb.WriteString(fmt.Sprintf("- Estado: %s\n", job.Status))
	if job.Accumulative {
		sb.WriteString("- Modo: acumulativo\n")
	}
	sb.WriteString(fmt.Sprintf("- Creado: %s\n", job.CreatedAt.Format("2006-01-02 15:04")))
	if job.CompletedAt != nil {
		sb.WriteString(fmt.Sprintf("- Terminado: %s\n", job.CompletedAt.Format("2006-01-02 15:04")))
	}
	if job.Error != "" {
		sb.WriteString(fmt.Sprintf("- Error: %s\n", job.Error))
	}
	return sb.String()
}

func formatSummary(s domain.Summary) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("- Clientes: %d\n", s.TotalClients))
	sb.WriteString(fmt.Sprintf("- Pedidos: %d (%d piezas)\n", s.TotalOrders, s.TotalPieces))
	sb.WriteString(fmt.Sprintf("- Ingreso estimado: %s (promedio %s)\n", formatMoney(s.TotalRevenue), formatMoney(s.AverageOrderValue)))
	sb.WriteString(fmt.Sprintf("- Respuesta promedio: %.1f h\n", s.AvgResponseTimeHours))
	sb.WriteString(fmt.Sprintf("- Perfiles: %d IA, %d locales\n", s.AIProfiles, s.FallbackProfiles))
	return sb.String()
}

func formatClientsPage(jobID string, page sqlite.Page[domain.ClientReport]) string {
	if page.Total == 0 {
		return fmt.Sprintf("El job `%s` no tiene clientes.", jobID)
	}
	if len(page.Items) == 0 {
		return fmt.Sprintf("La página %d no existe (hay %d).", page.Page, page.TotalPages)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*Clientes* `%s` (página %d de %d)\n", jobID, page.Page, page.TotalPages))
	offset := (page.Page - 1) * page.Limit
	for i, c := range page.Items {
		sb.WriteString(fmt.Sprintf("%d. *%s* - %d pedidos, %d piezas, %s | riesgo %s (%d)",
			offset+i+1, c.Name, c.TotalOrders, c.TotalPieces, formatMoney(c.TotalSpent), c.Profile.RiskLevel, c.Profile.RiskScore))
		if len(c.PreferredProducts) > 0 {
			sb.WriteString(fmt.Sprintf(" | prefiere %s", c.PreferredProducts[0].Product))
		}
		sb.WriteString("\n")
	}
	if page.Page < page.TotalPages {
		sb.WriteString(fmt.Sprintf("Siguiente: `/clients %s %d`", jobID, page.Page+1))
	}
	return sb.String()
}

func formatProducts(jobID string, products []domain.ProductStat) string {
	if len(products) == 0 {
		return fmt.Sprintf("El job `%s` no tiene productos.", jobID)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*Productos* `%s`\n", jobID))
	for _, p := range products {
		sb.WriteString(fmt.Sprintf("- *%s*: %d piezas, %s, %d clientes (%s)\n",
			p.Product, p.Count, formatMoney(p.Revenue), p.Clients, p.Popularity))
	}
	return sb.String()
}
