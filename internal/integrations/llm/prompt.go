package llm

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/raulgabino/panwhat-sub000/internal/profile"
)

const maxPromptMessageChars = 300

func buildProfilePrompts(bakeryName string, req profile.Request) (string, string) {
	bakery := strings.TrimSpace(bakeryName)
	if bakery == "" {
		bakery = "la panadería"
	}

	systemPrompt := fmt.Sprintf(`Eres analista de clientes de %s, una panadería que recibe pedidos por chat.
A partir de las métricas y mensajes recientes de un cliente, escribe su perfil comercial en español.

Responde solo con JSON (sin markdown), con exactamente estas claves:
{"insights": ["..."], "recommendations": ["..."], "riskLevel": "low|medium|high",
 "behaviorProfile": "...", "communicationStyle": "...", "businessValue": "...",
 "predictedActions": ["..."], "satisfactionAnalysis": "..."}

Reglas:
- insights y recommendations deben tener al menos un elemento.
- riskLevel es exactamente "low", "medium" o "high".
- Usa solo la información proporcionada; no inventes pedidos ni montos.`, bakery)

	m := req.Metrics
	var b strings.Builder
	fmt.Fprintf(&b, "Cliente: %s\n", m.Name)
	fmt.Fprintf(&b, "Mensajes: %d (del cliente: %d)\n", m.MessageCount, m.ClientMessageCount)
	fmt.Fprintf(&b, "Pedidos: %d | Piezas: %d | Gasto estimado: $%.0f | Ticket promedio: $%.0f\n", m.TotalOrders, m.TotalPieces, m.TotalSpent, m.AvgOrderValue)
	fmt.Fprintf(&b, "Frecuencia: %.2f pedidos/semana | Días desde el último pedido: %d\n", m.OrderFrequency, m.DaysSinceLastOrder)
	fmt.Fprintf(&b, "Tiempo de respuesta promedio: %.1f h | Mensajes por pedido: %.1f\n", m.ResponseTimeHours, m.MessagesPerOrder)
	fmt.Fprintf(&b, "Elogios: %d | Quejas: %d | Problemas de pago: %d | Días sin pedido (\"no\"): %d\n", m.Compliments, m.Complaints, m.PaymentIssues, m.NoResponseDays)
	fmt.Fprintf(&b, "Dificultad: %d\n", m.DifficultyScore)
	if len(m.PreferredProducts) > 0 {
		var prefs []string
		for _, p := range m.PreferredProducts {
			prefs = append(prefs, fmt.Sprintf("%s (%d, %d%%)", p.Product, p.Count, p.Percentage))
		}
		fmt.Fprintf(&b, "Productos preferidos: %s\n", strings.Join(prefs, ", "))
	}
	if len(m.Patterns) > 0 {
		fmt.Fprintf(&b, "Patrones: %s\n", strings.Join(m.Patterns, ", "))
	}

	b.WriteString("\nMensajes recientes del cliente:\n")
	if len(req.RecentMessages) == 0 {
		b.WriteString("ninguno\n")
	}
	for _, msg := range req.RecentMessages {
		fmt.Fprintf(&b, "- %s\n", truncateRunes(strings.TrimSpace(msg), maxPromptMessageChars))
	}

	b.WriteString("\nPedidos recientes:\n")
	if len(req.RecentOrders) == 0 {
		b.WriteString("ninguno\n")
	}
	for _, o := range req.RecentOrders {
		var products []string
		for _, p := range o.Products {
			products = append(products, fmt.Sprintf("%d %s", p.Count, p.Product))
		}
		fmt.Fprintf(&b, "- %s | %d piezas | $%.0f | %s\n", o.Date.Format("2006-01-02 15:04"), o.TotalPieces, o.EstimatedValue, strings.Join(products, ", "))
	}
	return systemPrompt, b.String()
}

// truncateRunes cuts s to at most n characters, marking the cut with "...".
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
