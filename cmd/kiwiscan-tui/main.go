package main

import (
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/kiwi-scanner/sdk/internal/tui/app"
	"github.com/kiwi-scanner/sdk/internal/tui/client"
	"github.com/spf13/cobra"
)

func main() {
	var wsURL, token string

	cmd := &cobra.Command{
		Use:          "kiwiscan-tui",
		Short:        "Terminal console for a running kiwiscand",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Dial retries would otherwise print over the alt screen.
			log.SetOutput(io.Discard)

			ws := client.NewWSClient(wsURL, token)
			defer ws.Close()
			httpClient := client.NewHTTPClient(deriveHTTPBase(wsURL), token)

			p := tea.NewProgram(app.New(ws, httpClient), tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&wsURL, "url", "ws://127.0.0.1:8080/ws", "WebSocket URL of kiwiscand")
	cmd.Flags().StringVar(&token, "token", "", "Auth token (if kiwiscand requires it)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// deriveHTTPBase converts ws://host:port/ws → http://host:port
func deriveHTTPBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "http://127.0.0.1:8080"
	}
	scheme := "http"
	if strings.HasPrefix(u.Scheme, "wss") {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}
