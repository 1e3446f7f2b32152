package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"topictrend-go/internal/fetcher"
	"topictrend-go/internal/model"
	"topictrend-go/internal/relay"
)

// Streamer 上游流式生成接口
type Streamer interface {
	Stream(ctx context.Context, messages []fetcher.Message) (io.ReadCloser, error)
}

// EventWriter 下游事件写入接口（sse.Writer 实现）
type EventWriter interface {
	Send(ev model.RelayEvent) error
	SendError(msg string) error
}

// AnalysisService AI解读服务
type AnalysisService struct {
	client Streamer
	relay  *relay.Relay
	logger *log.Logger
}

// NewAnalysisService 创建AI解读服务
func NewAnalysisService(client Streamer, logger *log.Logger) *AnalysisService {
	if logger == nil {
		logger = log.Default()
	}
	return &AnalysisService{
		client: client,
		relay:  relay.New(logger),
		logger: logger,
	}
}

// Analyze 把请求转成提示词发给上游，并把增量输出转发给 writer
// 调用前 req 必须已通过 Validate；返回值只用于日志，错误已经以事件形式发给客户端
func (s *AnalysisService) Analyze(ctx context.Context, req model.AnalysisRequest, writer EventWriter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analysis panicked: %v", r)
			writer.SendError("internal error")
		}
	}()

	body, err := s.client.Stream(ctx, BuildMessages(req))
	if err != nil {
		if ctx.Err() == nil {
			writer.SendError(err.Error())
		}
		return err
	}
	defer body.Close()

	forwarded, err := s.relay.Pipe(ctx, body, writer)
	switch {
	case err == nil:
		s.logger.Debug("analysis stream finished", "type", req.Type, "fragments", forwarded)
		return nil
	case errors.Is(err, relay.ErrClientGone), ctx.Err() != nil:
		// 客户端已断开，不再写任何事件
		return err
	default:
		writer.SendError(err.Error())
		return err
	}
}
