package export

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/raulgabino/panwhat-sub000/internal/domain"
)

const topClientsInReport = 10

// WriteReportFile writes content to <outputDir>/<name>.md and returns the path.
func WriteReportFile(content, outputDir, name string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(outputDir, sanitizeFilename(name)+".md")
	return path, os.WriteFile(path, []byte(content), 0644)
}

func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_", " ", "_")
	return replacer.Replace(s)
}

// BuildSummaryMarkdown renders the summary, the top clients by spend and the
// product table of result.
func BuildSummaryMarkdown(bakeryName string, job domain.Job, result domain.AnalysisResult) string {
	s := result.Summary
	var b strings.Builder
	fmt.Fprintf(&b, "# %s - Análisis de clientes\n\n", bakeryName)
	fmt.Fprintf(&b, "Job `%s`", job.ID)
	if job.Accumulative {
		b.WriteString(" (acumulativo)")
	}
	fmt.Fprintf(&b, " - generado %s\n\n", s.GeneratedAt.Format(dateLayout))

	b.WriteString("## Resumen\n\n")
	fmt.Fprintf(&b, "- **Clientes:** %d\n", s.TotalClients)
	fmt.Fprintf(&b, "- **Pedidos:** %d (%d piezas)\n", s.TotalOrders, s.TotalPieces)
	fmt.Fprintf(&b, "- **Ingreso estimado:** $%s (promedio $%s por pedido)\n", money(s.TotalRevenue), money(s.AverageOrderValue))
	fmt.Fprintf(&b, "- **Tiempo de respuesta promedio:** %s h\n", decimal(s.AvgResponseTimeHours))
	fmt.Fprintf(&b, "- **Mensajes:** %d\n", s.TotalMessages)
	fmt.Fprintf(&b, "- **Perfiles:** %d IA, %d locales\n\n", s.AIProfiles, s.FallbackProfiles)

	if len(result.Clients) > 0 {
		b.WriteString("## Clientes principales\n\n")
		b.WriteString("| Cliente | Pedidos | Piezas | Gasto | Riesgo | Valor |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for i, c := range result.Clients {
			if i == topClientsInReport {
				break
			}
			fmt.Fprintf(&b, "| %s | %d | %d | $%s | %s (%d) | %s |\n",
				escapeCell(c.Name), c.TotalOrders, c.TotalPieces, money(c.TotalSpent),
				c.Profile.RiskLevel, c.Profile.RiskScore, escapeCell(c.Profile.BusinessValue))
		}
		b.WriteString("\n")
	}

	if len(result.Products) > 0 {
		b.WriteString("## Productos\n\n")
		b.WriteString("| Producto | Piezas | Ingreso | Clientes | Popularidad |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, p := range result.Products {
			fmt.Fprintf(&b, "| %s | %d | $%s | %d | %s |\n", p.Product, p.Count, money(p.Revenue), p.Clients, p.Popularity)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// SummaryWriter stores a Markdown summary for every completed job. Its
// JobCompleted method is a jobs.CompletionHook.
type SummaryWriter struct {
	OutputDir  string
	BakeryName string
}

func (w SummaryWriter) JobCompleted(_ context.Context, job domain.Job, result domain.AnalysisResult) error {
	content := BuildSummaryMarkdown(w.BakeryName, job, result)
	name := fmt.Sprintf("%s_%s_%s", w.BakeryName, result.Summary.GeneratedAt.Format("20060102"), shortID(job.ID))
	path, err := WriteReportFile(content, w.OutputDir, name)
	if err != nil {
		return fmt.Errorf("write summary report: %w", err)
	}
	log.Printf("summary report written job=%s path=%s", job.ID, path)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
