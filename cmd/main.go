package main

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bidhaus/auction-server/configs"
	"github.com/bidhaus/auction-server/internal/auctions"
	"github.com/bidhaus/auction-server/internal/bidding"
	"github.com/bidhaus/auction-server/internal/database"
	"github.com/bidhaus/auction-server/internal/handlers/rest"
	ws "github.com/bidhaus/auction-server/internal/handlers/websocket"
	"github.com/bidhaus/auction-server/internal/longpoll"
	"github.com/bidhaus/auction-server/internal/notify"
	"github.com/bidhaus/auction-server/internal/query"
	"github.com/bidhaus/auction-server/pkg/types"
	"github.com/bidhaus/auction-server/pkg/utils"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

var (
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
	engine *auctions.Engine
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Every(30*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Define the model for the Bubble Tea application
type model struct {
	table     table.Model
	viewport  viewport.Model
	logBuffer *bytes.Buffer
	logs      []string
	showTable bool
	quitting  bool
}

func (m model) Init() tea.Cmd {
	return tick()
}

func ongoingRows() []table.Row {
	page, err := engine.List(context.Background(), auctions.ListRequest{
		Filters: query.Filters{AuctionStatuses: []types.AuctionStatus{types.AuctionOngoing}},
		Page:    query.Page{Number: 1, Size: 10},
	}, nil)
	if err != nil {
		log.Error("Error getting auctions: ", err)
		return nil
	}

	rows := make([]table.Row, 0, len(page.Auctions))
	for _, auction := range page.Auctions {
		topBid := "-"
		bidder := "-"
		if auction.TopBid != nil {
			topBid = auction.TopBid.Amount.StringFixed(2)
			bidder = auction.TopBid.BidderID
		}

		timeLeft := "-"
		if auction.EndTime != nil {
			if left := time.Until(*auction.EndTime); left > 0 {
				timeLeft = left.Round(time.Second).String()
			} else {
				timeLeft = "Ended"
			}
		}

		rows = append(rows, table.Row{auction.Name, topBid, bidder, timeLeft})
	}
	return rows
}

func newTable() model {
	columns := []table.Column{
		{Title: "AUCTION", Width: 24},
		{Title: "TOP BID", Width: 12},
		{Title: "TOP BIDDER", Width: 20},
		{Title: "TIME LEFT", Width: 16},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(ongoingRows()),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	vp := viewport.New(100, 15)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)
	return model{table: t, showTable: true, viewport: vp}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)
	switch msg := msg.(type) {
	case tickMsg:
		if m.showTable {
			m.table.SetRows(ongoingRows())
		} else {
			// refresh logs to get new logs
			m.logs = nil
			logs := strings.Split(m.logBuffer.String(), "\n")
			m.logs = append(m.logs, logs...)
		}
		return m, tick()

	case tea.KeyMsg:
		switch msg.String() {
		case "up":
			if !m.showTable {
				m.viewport.LineUp(1) // Scroll up one line in logs
			}
		case "down":
			if !m.showTable {
				m.viewport.LineDown(1) // Scroll down one line in logs
			}
		case "tab":
			m.showTable = !m.showTable
			if !m.showTable {
				// Load logs from buffer when switching to logs view
				m.logs = nil
				logs := strings.Split(m.logBuffer.String(), "\n")
				m.logs = append(m.logs, logs...)
			}
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	}

	if m.showTable {
		m.table, cmd = m.table.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)
	}
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// Render the view based on the current state of the model
func (m model) View() string {
	if m.quitting {
		return "Bye!\n"
	}
	if m.showTable {
		return baseStyle.Render(m.table.View()) + "\n" + helpStyle.Render("• tab: switch modes • q: exit\n")
	}

	styledLogs := make([]string, len(m.logs))
	copy(styledLogs, m.logs)

	styledLogs = utils.ColorizeLogs(styledLogs)

	// only show last 15 lines of logs
	if len(styledLogs) > 15 {
		styledLogs = styledLogs[len(styledLogs)-15:]
	}

	m.viewport.SetContent(strings.Join(styledLogs, "\n"))
	return m.viewport.View() + "\n" + helpStyle.Render("• tab: switch modes • q: exit\n")
}

func main() {
	// Load configurations
	cfg, err := configs.LoadConfig()
	if err != nil {
		log.Fatal("Error loading config: ", err)
	}

	port := cfg.Server.Port
	if port == "" {
		port = "8080" // Default port if not specified
	}

	// Setup logger
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "debug" // Default log level if not specified
	}
	logLevel, err := log.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		log.Error("Invalid log level: ", err)
	}
	log.SetLevel(logLevel)

	// Redirect logs to buffer for the dashboard
	logBuffer := new(bytes.Buffer)
	log.SetOutput(logBuffer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database service
	db := database.New(cfg)
	defer db.Close()

	// Core components: read model, long-poll registry, notifications
	engine = auctions.New(db, auctions.Options{
		DefaultPageSize: cfg.Query.DefaultPageSize,
		MaxPageSize:     cfg.Query.MaxPageSize,
		CountCeiling:    cfg.Query.CountCeiling,
	})
	registry := longpoll.New(cfg.LongPoll.Timeout)
	hub := ws.NewHub(db)
	dispatcher := notify.New(hub, registry)
	placer := bidding.NewPlacer(db, dispatcher)

	// Periodic end-of-auction sweep
	sweeper := notify.NewSweeper(db, dispatcher, cfg.Sweep.Interval, cfg.Sweep.EndingSoon)
	sweeper.Start(ctx)

	// Setup routes
	mux := http.NewServeMux()
	rest.NewHandler(engine, registry, placer, db, cfg.Query.DefaultPageSize, cfg.Query.MaxPageSize).Register(mux)
	mux.HandleFunc("/ws/notifications", hub.HandleNotifications)

	// Start server in a goroutine
	log.Infof("Server started on port %s", port)
	go func() {
		if err := http.ListenAndServe(":"+port, mux); err != nil {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	// Start Bubble Tea program
	m := newTable()
	m.logBuffer = logBuffer
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running Bubble Tea program: %v", err)
	}

	hub.Shutdown(ctx)
}
