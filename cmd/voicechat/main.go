// Command voicechat is a terminal voice chat client. The default mode holds a
// live full-duplex conversation over the realtime API; request mode records a
// message, gets a reply, and plays it back, one exchange at a time.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/koscakluka/voicechat/core/config"
)

func main() {
	mode := flag.String("mode", "realtime", "conversation mode: realtime or request")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicechat: %v\n", err)
		os.Exit(1)
	}

	switch *mode {
	case "realtime":
		if _, err := tea.NewProgram(newModel(cfg), tea.WithAltScreen()).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "voicechat: %v\n", err)
			os.Exit(1)
		}
	case "request":
		if err := runRequestMode(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "voicechat: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "voicechat: unknown mode %q\n", *mode)
		os.Exit(1)
	}
}
