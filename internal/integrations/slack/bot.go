package slackbot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/raulgabino/panwhat-sub000/internal/config"
	"github.com/raulgabino/panwhat-sub000/internal/domain"
	"github.com/raulgabino/panwhat-sub000/internal/jobs"
	"github.com/raulgabino/panwhat-sub000/internal/storage/sqlite"
)

const clientsPageSize = 10

type Submitter interface {
	Submit(ctx context.Context, text string, accumulative bool) (domain.Job, error)
}

// origins remembers which channel and user asked for a job, so the
// completion notice can be sent back there.
type origins struct {
	mu   sync.Mutex
	jobs map[string]origin
}

type origin struct {
	channelID string
	userID    string
}

func (o *origins) put(jobID string, v origin) {
	o.mu.Lock()
	o.jobs[jobID] = v
	o.mu.Unlock()
}

func (o *origins) take(jobID string) (origin, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.jobs[jobID]
	delete(o.jobs, jobID)
	return v, ok
}

type Bot struct {
	cfg     config.Config
	db      *sql.DB
	queue   Submitter
	api     API
	users   *userNames
	origins *origins
}

func NewBot(cfg config.Config, db *sql.DB, api API, queue Submitter) *Bot {
	return &Bot{
		cfg:     cfg,
		db:      db,
		queue:   queue,
		api:     api,
		users:   newUserNames(),
		origins: &origins{jobs: make(map[string]origin)},
	}
}

// Notifier returns the completion notifier sharing this bot's job origins.
func (b *Bot) Notifier() *Notifier {
	return &Notifier{api: b.api, channelID: b.cfg.ReportChannelID, origins: b.origins, bakeryName: b.cfg.BakeryName}
}

// Run serves slash commands over Socket Mode until ctx is done.
func (b *Bot) Run(ctx context.Context, api *slack.Client) error {
	client := socketmode.New(api)

	go func() {
		for evt := range client.Events {
			switch evt.Type {
			case socketmode.EventTypeConnected:
				log.Println("Slack bot connected via Socket Mode")
			case socketmode.EventTypeSlashCommand:
				client.Ack(*evt.Request)
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				log.Printf("Slash command received: %s from user=%s channel=%s", cmd.Command, cmd.UserID, cmd.ChannelID)
				go b.handleSlashCommand(ctx, cmd)
			}
		}
	}()

	return client.RunContext(ctx)
}

func (b *Bot) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	switch cmd.Command {
	case "/analyze":
		b.handleAnalyze(ctx, cmd)
	case "/job":
		b.handleJob(cmd)
	case "/clients":
		b.handleClients(cmd)
	case "/products":
		b.handleProducts(cmd)
	case "/panwhat-help":
		b.handleHelp(cmd)
	default:
		log.Printf("unknown slash command %s from user=%s", cmd.Command, cmd.UserID)
	}
}

func (b *Bot) handleAnalyze(ctx context.Context, cmd slack.SlashCommand) {
	text := strings.TrimSpace(cmd.Text)
	accumulative := false
	if rest, ok := strings.CutPrefix(text, "+"); ok {
		accumulative = true
		text = strings.TrimSpace(rest)
	}
	if text == "" {
		b.postEphemeral(cmd, "Uso: /analyze <transcripción de WhatsApp>\nAntepón `+` para sumar a las transcripciones anteriores.")
		return
	}

	author := b.users.displayName(b.api, cmd.UserID, cmd.UserName)
	job, err := b.queue.Submit(ctx, text, accumulative)
	if errors.Is(err, jobs.ErrQueueFull) {
		b.postEphemeral(cmd, "La cola de análisis está llena. Intenta de nuevo en unos minutos.")
		log.Printf("analyze rejected user=%s: %v", cmd.UserID, err)
		return
	}
	if err != nil {
		b.postEphemeral(cmd, fmt.Sprintf("Error al registrar el análisis: %v", err))
		log.Printf("analyze submit error user=%s: %v", cmd.UserID, err)
		return
	}
	b.origins.put(job.ID, origin{channelID: cmd.ChannelID, userID: cmd.UserID})
	b.postEphemeral(cmd, fmt.Sprintf("Análisis en cola: `%s`. Te aviso cuando termine, o consulta con `/job %s`.", job.ID, job.ID))
	log.Printf("analyze queued job=%s user=%s author=%q chars=%d accumulative=%t", job.ID, cmd.UserID, author, len(text), accumulative)
}

// loadJob answers the user directly on any failure; ok is false then.
func (b *Bot) loadJob(cmd slack.SlashCommand, id string) (domain.Job, bool) {
	if id == "" {
		b.postEphemeral(cmd, fmt.Sprintf("Uso: %s <job id>", cmd.Command))
		return domain.Job{}, false
	}
	job, err := sqlite.GetJob(b.db, id)
	if errors.Is(err, sqlite.ErrJobNotFound) {
		b.postEphemeral(cmd, fmt.Sprintf("No existe el job `%s`.", id))
		return domain.Job{}, false
	}
	if err != nil {
		b.postEphemeral(cmd, fmt.Sprintf("Error al cargar el job: %v", err))
		log.Printf("%s load error job=%s: %v", cmd.Command, id, err)
		return domain.Job{}, false
	}
	return job, true
}

func (b *Bot) loadResult(cmd slack.SlashCommand, id string) (domain.AnalysisResult, bool) {
	job, ok := b.loadJob(cmd, id)
	if !ok {
		return domain.AnalysisResult{}, false
	}
	result, err := sqlite.GetResult(b.db, id)
	if errors.Is(err, sqlite.ErrResultNotFound) {
		b.postEphemeral(cmd, fmt.Sprintf("El job `%s` aún no tiene resultado (estado: %s).", id, job.Status))
		return domain.AnalysisResult{}, false
	}
	if err != nil {
		b.postEphemeral(cmd, fmt.Sprintf("Error al cargar el resultado: %v", err))
		log.Printf("%s result error job=%s: %v", cmd.Command, id, err)
		return domain.AnalysisResult{}, false
	}
	return result, true
}

func (b *Bot) handleJob(cmd slack.SlashCommand) {
	id := strings.TrimSpace(cmd.Text)
	job, ok := b.loadJob(cmd, id)
	if !ok {
		return
	}
	msg := formatJobStatus(job)
	if job.Status == domain.JobCompleted {
		if result, err := sqlite.GetResult(b.db, id); err == nil {
			msg += "\n" + formatSummary(result.Summary)
		} else {
			log.Printf("job result lookup error job=%s: %v", id, err)
		}
		if usage, err := sqlite.GetResultUsage(b.db, id); err == nil && usage.InputTokens+usage.OutputTokens > 0 {
			msg += fmt.Sprintf("- Tokens usados: %s\n", formatTokenCount(usage.InputTokens+usage.OutputTokens))
		}
	}
	b.postEphemeral(cmd, msg)
}

func (b *Bot) handleClients(cmd slack.SlashCommand) {
	fields := strings.Fields(cmd.Text)
	if len(fields) == 0 {
		b.postEphemeral(cmd, "Uso: /clients <job id> [página]")
		return
	}
	page := 1
	if len(fields) > 1 {
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 {
			b.postEphemeral(cmd, fmt.Sprintf("Página inválida: %q", fields[1]))
			return
		}
		page = n
	}
	result, ok := b.loadResult(cmd, fields[0])
	if !ok {
		return
	}
	b.postEphemeral(cmd, formatClientsPage(fields[0], sqlite.Paginate(result.Clients, page, clientsPageSize)))
}

func (b *Bot) handleProducts(cmd slack.SlashCommand) {
	id := strings.TrimSpace(cmd.Text)
	result, ok := b.loadResult(cmd, id)
	if !ok {
		return
	}
	b.postEphemeral(cmd, formatProducts(id, result.Products))
}

func (b *Bot) handleHelp(cmd slack.SlashCommand) {
	lines := []string{
		"*Comandos de panwhat*",
		"",
		"`/analyze <transcripción>` - Analiza una transcripción exportada de WhatsApp.",
		">Antepón `+` para analizarla junto con todas las anteriores: `/analyze + [8:00 AM, 3/7/2025] Ana: 2 conchas`",
		"`/job <id>` - Estado del job y resumen cuando termina.",
		"`/clients <id> [página]` - Clientes ordenados por gasto.",
		"`/products <id>` - Tabla de productos.",
		"`/panwhat-help` - Muestra esta ayuda.",
	}
	if b.cfg.ReanalysisSchedule != "" {
		lines = append(lines, "", fmt.Sprintf("Re-análisis programado: `%s`", b.cfg.ReanalysisSchedule))
	}
	b.postEphemeral(cmd, strings.Join(lines, "\n"))
}

func (b *Bot) postEphemeral(cmd slack.SlashCommand, text string) {
	_, err := b.api.PostEphemeral(cmd.ChannelID, cmd.UserID, slack.MsgOptionText(text, false))
	if err != nil {
		log.Printf("Error posting ephemeral: %v", err)
	}
}
