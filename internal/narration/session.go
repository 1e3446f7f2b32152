// Package narration 是 AI解读流的客户端：发请求、增量解码、拼行、解析事件并维护显示缓冲
package narration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"topictrend-go/internal/model"
)

const (
	analysisPath = "/api/ai-analysis"
	dataPrefix   = "data:"
	doneMarker   = "[DONE]"
	readSize     = 4096
)

// State 会话状态
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateDone
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ResponseError 服务端在打开流之前返回了非2xx
type ResponseError struct {
	StatusCode int
	Message    string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// Snapshot 某一时刻的会话视图
type Snapshot struct {
	RequestID uint64
	State     State
	Text      string
	Err       string
	// ScrollToBottom 本次变化是追加内容，视图应滚到底部
	ScrollToBottom bool
}

// Listener 每次会话变化后被调用（在状态锁外，按变化顺序）
// 可以调用 Snapshot / Busy；不要在 Listener 里同步调用 Analyze / Clear / Cancel
type Listener func(Snapshot)

// Session 单个显示区域的流式会话，同一时间只有一个请求有效
type Session struct {
	endpoint string
	client   *http.Client
	logger   *log.Logger

	mu        sync.Mutex
	state     State
	buf       strings.Builder
	errMsg    string
	reqID     uint64
	cancel    context.CancelFunc
	listeners []Listener

	notifyMu sync.Mutex
}

// NewSession 创建会话，baseURL 形如 http://localhost:5000
func NewSession(baseURL string, client *http.Client, logger *log.Logger) *Session {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Session{
		endpoint: strings.TrimRight(baseURL, "/") + analysisPath,
		client:   client,
		logger:   logger,
	}
}

// OnChange 注册监听器
func (s *Session) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Snapshot 当前状态
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(false)
}

// Busy 是否有请求在进行中
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateStreaming
}

func (s *Session) snapshotLocked(scroll bool) Snapshot {
	return Snapshot{
		RequestID:      s.reqID,
		State:          s.state,
		Text:           s.buf.String(),
		Err:            s.errMsg,
		ScrollToBottom: scroll,
	}
}

// update 在锁内修改状态，然后在锁外按顺序通知
// 先拿 notifyMu 再拿 mu，通知期间 mu 已释放，Listener 里可以读 Snapshot / Busy
// id 为 0 表示不校验请求编号；mutate 返回 false 表示无变化
func (s *Session) update(id uint64, scroll bool, mutate func() bool) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if id != 0 && id != s.reqID {
		s.mu.Unlock()
		return false
	}
	if !mutate() {
		s.mu.Unlock()
		return true
	}
	snap := s.snapshotLocked(scroll)
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
	return true
}

// Analyze 发起新的解读请求；进行中的旧请求会被取消，其后续输出全部丢弃
// 内容为空时同步返回 model.ErrEmptyContent，不发请求；已有请求在进行时不改动会话
// 返回的 channel 在本次请求的读取结束后关闭
func (s *Session) Analyze(ctx context.Context, req model.AnalysisRequest) (<-chan struct{}, error) {
	if err := req.Validate(); err != nil {
		s.update(0, false, func() bool {
			if s.state == StateStreaming {
				return false
			}
			s.errMsg = err.Error()
			s.state = StateErrored
			return true
		})
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	var id uint64
	s.update(0, false, func() bool {
		if s.cancel != nil {
			s.cancel()
		}
		s.reqID++
		id = s.reqID
		s.cancel = cancel
		s.state = StateStreaming
		s.buf.Reset()
		s.errMsg = ""
		return true
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		s.run(ctx, id, body)
	}()
	return done, nil
}

// Cancel 取消进行中的请求，已收到的内容保留
func (s *Session) Cancel() {
	s.update(0, false, func() bool {
		if s.cancel == nil {
			return false
		}
		s.cancel()
		s.cancel = nil
		s.reqID++
		if s.state == StateStreaming {
			s.state = StateIdle
		}
		return true
	})
}

// Clear 清空显示缓冲和错误，不影响进行中的请求
func (s *Session) Clear() {
	s.update(0, false, func() bool {
		s.buf.Reset()
		s.errMsg = ""
		if s.state != StateStreaming {
			s.state = StateIdle
		}
		return true
	})
}

func (s *Session) run(ctx context.Context, id uint64, body []byte) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		s.fail(id, err.Error())
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.fail(id, err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.fail(id, responseError(resp).Error())
		return
	}

	if err := s.consume(id, resp.Body); err != nil {
		s.fail(id, err.Error())
	}
}

// responseError 优先取 JSON 里的 error 字段
func responseError(resp *http.Response) *ResponseError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body model.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return &ResponseError{StatusCode: resp.StatusCode, Message: body.Error}
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &ResponseError{StatusCode: resp.StatusCode, Message: msg}
}

// consume 增量解码响应体并逐行处理；返回 nil 表示正常结束
func (s *Session) consume(id uint64, body io.Reader) error {
	// UTF-8 解码器会保留被切开的多字节字符，直到下一块到达
	reader := transform.NewReader(body, unicode.UTF8.NewDecoder())
	splitter := &lineSplitter{}
	chunk := make([]byte, readSize)

	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			for _, line := range splitter.push(string(chunk[:n])) {
				if !s.handleLine(id, line) {
					return nil
				}
			}
		}
		if errors.Is(err, io.EOF) {
			if tail := splitter.flush(); tail != "" {
				if !s.handleLine(id, tail) {
					return nil
				}
			}
			s.finish(id)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read stream: %w", err)
		}
	}
}

type streamEvent struct {
	Content *string `json:"content"`
	Error   *string `json:"error"`
}

// handleLine 返回 false 表示应停止读取
func (s *Session) handleLine(id uint64, line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, dataPrefix) {
		return true
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if payload == doneMarker {
		s.finish(id)
		return false
	}

	var ev streamEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		s.logger.Debug("skip malformed stream line", "err", err)
		return true
	}
	if ev.Error != nil {
		s.fail(id, *ev.Error)
		return false
	}
	if ev.Content != nil && *ev.Content != "" {
		return s.update(id, true, func() bool {
			s.buf.WriteString(*ev.Content)
			return true
		})
	}
	return true
}

func (s *Session) finish(id uint64) {
	s.update(id, false, func() bool {
		s.state = StateDone
		s.cancel = nil
		return true
	})
}

func (s *Session) fail(id uint64, msg string) {
	s.update(id, false, func() bool {
		s.state = StateErrored
		s.errMsg = msg
		s.cancel = nil
		return true
	})
}
