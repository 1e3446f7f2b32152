package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"

	"topictrend-go/internal/model"
)

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"
)

// ErrClientGone 向客户端写入失败，不应再尝试发送任何事件
var ErrClientGone = errors.New("client connection closed")

// EventSink 接收标准化后的事件
type EventSink interface {
	Send(ev model.RelayEvent) error
}

// Relay 把上游的增量输出重新封帧
type Relay struct {
	extractors []Extractor
	logger     *log.Logger
}

// New 创建 Relay，extractors 为空时使用 DefaultExtractors
func New(logger *log.Logger, extractors ...Extractor) *Relay {
	if len(extractors) == 0 {
		extractors = DefaultExtractors
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Relay{extractors: extractors, logger: logger}
}

// Pipe 逐行读取上游并把识别出的片段写入 sink，返回已转发的片段数
// 遇到 [DONE] 或上游 EOF 正常返回；单行解析失败直接跳过
func (r *Relay) Pipe(ctx context.Context, upstream io.Reader, sink EventSink) (int, error) {
	reader := bufio.NewReader(upstream)
	forwarded := 0

	for {
		if err := ctx.Err(); err != nil {
			return forwarded, err
		}

		line, readErr := reader.ReadString('\n')
		if line != "" {
			fragment, status := r.parseLine(line)
			switch status {
			case lineDone:
				return forwarded, nil
			case lineFragment:
				if err := sink.Send(model.ContentEvent(fragment)); err != nil {
					return forwarded, fmt.Errorf("%w: %v", ErrClientGone, err)
				}
				forwarded++
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				return forwarded, nil
			}
			return forwarded, fmt.Errorf("failed to read upstream: %w", readErr)
		}
	}
}

type lineStatus int

const (
	lineSkip lineStatus = iota
	lineFragment
	lineDone
)

func (r *Relay) parseLine(line string) (string, lineStatus) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, dataPrefix) {
		return "", lineSkip
	}

	payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if payload == doneMarker {
		return "", lineDone
	}

	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		r.logger.Debug("skip malformed upstream frame", "err", err)
		return "", lineSkip
	}

	fragment, ok := ExtractFragment(v, r.extractors)
	if !ok {
		return "", lineSkip
	}
	return fragment, lineFragment
}
