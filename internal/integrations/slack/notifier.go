package slackbot

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/slack-go/slack"

	"github.com/raulgabino/panwhat-sub000/internal/domain"
)

// Notifier posts a summary of every completed job to the report channel and
// to the channel the job was requested from.
type Notifier struct {
	api        API
	channelID  string
	bakeryName string
	origins    *origins
}

func NewNotifier(api API, channelID, bakeryName string) *Notifier {
	return &Notifier{api: api, channelID: channelID, bakeryName: bakeryName, origins: &origins{jobs: make(map[string]origin)}}
}

// JobCompleted is a jobs.CompletionHook.
func (n *Notifier) JobCompleted(_ context.Context, job domain.Job, result domain.AnalysisResult) error {
	msg := n.completionMessage(job, result)

	var errs []error
	posted := map[string]bool{}
	if n.channelID != "" {
		if _, _, err := n.api.PostMessage(n.channelID, slack.MsgOptionText(msg, false)); err != nil {
			errs = append(errs, fmt.Errorf("post to %s: %w", n.channelID, err))
		} else {
			posted[n.channelID] = true
		}
	}
	if o, ok := n.origins.take(job.ID); ok && !posted[o.channelID] {
		if _, err := n.api.PostEphemeral(o.channelID, o.userID, slack.MsgOptionText(msg, false)); err != nil {
			errs = append(errs, fmt.Errorf("notify requester %s: %w", o.userID, err))
		} else {
			posted[o.channelID] = true
		}
	}
	if len(posted) > 0 {
		log.Printf("slack job notification sent job=%s channels=%d", job.ID, len(posted))
	}
	return errors.Join(errs...)
}

func (n *Notifier) completionMessage(job domain.Job, result domain.AnalysisResult) string {
	title := "Análisis terminado"
	if job.Accumulative {
		title = "Análisis acumulativo terminado"
	}
	msg := fmt.Sprintf("*%s - %s* `%s`\n%s", n.bakeryName, title, job.ID, formatSummary(result.Summary))
	if len(result.Clients) > 0 {
		top := result.Clients[0]
		msg += fmt.Sprintf("- Mejor cliente: %s (%s)\n", top.Name, formatMoney(top.TotalSpent))
	}
	if len(result.Products) > 0 {
		msg += fmt.Sprintf("- Producto más pedido: %s (%d piezas)\n", result.Products[0].Product, result.Products[0].Count)
	}
	msg += fmt.Sprintf("Detalle: `/clients %s`", job.ID)
	return msg
}
