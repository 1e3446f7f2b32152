// narrate 在终端里流式展示 AI解读结果
//
//	narrate -server http://localhost:5000 -type trends "主题 3 在 2020 年后快速上升"
//	cat summary.txt | narrate -plain
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"golang.org/x/term"

	"topictrend-go/internal/logging"
	"topictrend-go/internal/model"
	"topictrend-go/internal/narration"
)

func main() {
	godotenv.Load()

	defaultServer := os.Getenv("NARRATE_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:5000"
	}

	server := flag.String("server", defaultServer, "topic trend server base URL")
	kind := flag.String("type", "general", "analysis type: topics, trends, map, general")
	plain := flag.Bool("plain", false, "print raw text instead of the interactive view")
	flag.Parse()

	content, err := readContent(flag.Args(), os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, "narrate:", err)
		os.Exit(2)
	}

	req := model.AnalysisRequest{Content: content, Type: model.Category(*kind)}
	if err := req.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "narrate:", err)
		os.Exit(2)
	}

	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Stderr)
	session := narration.NewSession(*server, nil, logger)

	if *plain || !term.IsTerminal(int(os.Stdout.Fd())) {
		os.Exit(runPlain(session, req, os.Stdout, os.Stderr))
	}

	p := tea.NewProgram(newViewModel(session, req), tea.WithAltScreen(), tea.WithMouseCellMotion())
	session.OnChange(func(snap narration.Snapshot) {
		p.Send(snapshotMsg(snap))
	})
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "narrate:", err)
		os.Exit(1)
	}

	if snap := session.Snapshot(); snap.Text != "" {
		fmt.Println(snap.Text)
	}
}

// readContent 参数优先，否则从非终端 stdin 读取
func readContent(args []string, stdin *os.File) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if term.IsTerminal(int(stdin.Fd())) {
		return "", errors.New("nothing to analyze: pass text as arguments or pipe it on stdin")
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}

// runPlain 逐段输出新增文本，返回进程退出码
func runPlain(session *narration.Session, req model.AnalysisRequest, stdout, stderr io.Writer) int {
	var mu sync.Mutex
	printed := 0
	session.OnChange(func(snap narration.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if len(snap.Text) < printed {
			printed = 0
		}
		io.WriteString(stdout, snap.Text[printed:])
		printed = len(snap.Text)
	})

	done, err := session.Analyze(context.Background(), req)
	if err != nil {
		fmt.Fprintln(stderr, "narrate:", err)
		return 2
	}
	<-done

	snap := session.Snapshot()
	io.WriteString(stdout, "\n")
	if snap.State == narration.StateErrored {
		fmt.Fprintln(stderr, "narrate:", snap.Err)
		return 1
	}
	return 0
}
