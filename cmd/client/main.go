package main

import (
	"log"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fenggwsx/roomlink/internal/client"
	"github.com/fenggwsx/roomlink/internal/config"
)

func main() {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if _, err := tea.NewProgram(client.NewApp(cfg), tea.WithAltScreen()).Run(); err != nil {
		log.Fatalf("client exited: %v", err)
	}
}
