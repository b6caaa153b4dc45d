package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	lipgloss "charm.land/lipgloss/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/journi-app/journi-go/pkg/chat"
	"github.com/journi-app/journi-go/pkg/history"
	"github.com/journi-app/journi-go/pkg/transcript"
)

var (
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	botStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("120"))
	systemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("135"))
)

// printer renders new messages and typing transitions as the client state
// advances.
type printer struct {
	client *chat.Client

	mu      sync.Mutex
	printed int
	typing  bool
	status  chat.Status
}

func (p *printer) update() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if st := p.client.Status(); st != p.status {
		p.status = st
		fmt.Println(statusStyle.Render("· " + string(st)))
	}

	msgs := p.client.Messages()
	for ; p.printed < len(msgs); p.printed++ {
		p.printMessage(msgs[p.printed])
	}

	if typing := p.client.IsTyping(); typing != p.typing {
		p.typing = typing
		if typing {
			fmt.Println(systemStyle.Render("· bot is typing…"))
		}
	}
}

func (p *printer) printMessage(msg chat.Message) {
	switch msg.Kind {
	case chat.KindUser:
		fmt.Println(userStyle.Render(msg.AuthorID+":") + " " + msg.Content)
	case chat.KindBot:
		for _, step := range msg.ToolTrace {
			line := "⚙ " + step.ToolName
			if step.Result != "" {
				line += " → " + step.Result
			}
			fmt.Println(toolStyle.Render(line))
		}
		fmt.Println(botStyle.Render("journi:") + " " + msg.Content)
	case chat.KindSystem:
		fmt.Println(systemStyle.Render("· " + msg.Content))
	}
}

func newChatCommand() *cobra.Command {
	var (
		sessionID      string
		userID         string
		serverURL      string
		transcriptPath string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a trip session from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" || userID == "" {
				return errors.New("--session and --user are required")
			}
			base := serverURL
			if base == "" {
				base = env.ServerURL
			}

			p := &printer{status: chat.StatusDisconnected}
			opts := []chat.Option{
				chat.WithBaseURL(base),
				chat.WithHistoryFetcher(history.NewClient(base)),
				chat.WithUpdateHandler(p.update),
				chat.WithErrorHandler(func(err error) {
					fmt.Println(statusStyle.Render("! " + err.Error()))
				}),
				chat.WithAutoReconnect(chat.DefaultReconnectPolicy()),
			}
			if transcriptPath != "" {
				store, err := transcript.NewStore(transcript.DSNForFile(transcriptPath))
				if err != nil {
					return err
				}
				defer func() { _ = store.Close() }()
				opts = append(opts, chat.WithRecorder(store))
			}

			client, err := chat.NewClient(sessionID, userID, opts...)
			if err != nil {
				return err
			}
			p.client = client

			if err := client.Connect(cmd.Context()); err != nil {
				return err
			}
			defer client.Disconnect()

			fmt.Println(systemStyle.Render("type a message, /state for the snapshot, /quit to leave"))
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				switch {
				case line == "":
				case line == "/quit":
					return nil
				case line == "/state":
					printState(client)
				default:
					if err := client.SendMessage(line, ""); err != nil {
						fmt.Println(statusStyle.Render("! " + err.Error()))
					}
				}
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "trip session id")
	cmd.Flags().StringVar(&userID, "user", "", "display name / user id")
	cmd.Flags().StringVar(&serverURL, "server", "", "backend base URL (default JOURNI_SERVER_URL)")
	cmd.Flags().StringVar(&transcriptPath, "transcript", "", "sqlite file to record the transcript into")
	return cmd
}

func printState(client *chat.Client) {
	state := client.SessionState()
	fmt.Println(statusStyle.Render(fmt.Sprintf("participants: %s", strings.Join(state.Participants, ", "))))
	fmt.Println(statusStyle.Render(fmt.Sprintf("online: %s", strings.Join(client.OnlineUsers(), ", "))))
	for _, e := range state.Expenses {
		fmt.Println(statusStyle.Render(fmt.Sprintf("  %s %s %s (paid by %s)", e.Amount.String(), e.Currency, e.Description, e.PaidBy)))
	}
	for currency, debts := range state.Debts {
		for _, d := range debts {
			fmt.Println(statusStyle.Render(fmt.Sprintf("  %s owes %s %s %s", d.From, d.To, d.Amount.String(), currency)))
		}
	}
	log.Debug().Int("expenses", len(state.Expenses)).Msg("printed session state")
}
