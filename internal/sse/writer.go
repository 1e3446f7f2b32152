package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"topictrend-go/internal/model"
)

// ErrClosed 流已结束（已发送错误事件或已关闭）
var ErrClosed = errors.New("sse stream closed")

// Writer SSE写入器，每个事件一行 "data: {json}"，后跟空行
type Writer struct {
	w         io.Writer
	flusher   http.Flusher
	mu        sync.Mutex
	closed    bool
	errorSent bool
	stopHeart chan struct{}
	stopOnce  sync.Once
}

// NewWriter 设置响应头并立即提交 200，interval > 0 时启动心跳
func NewWriter(w http.ResponseWriter, interval time.Duration) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	writer := &Writer{
		w:         w,
		flusher:   flusher,
		stopHeart: make(chan struct{}),
	}

	if interval > 0 {
		go writer.heartbeat(interval)
	}

	return writer, nil
}

// heartbeat 定期发送注释行保持连接，消费端会忽略非 data 行
func (s *Writer) heartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return
			}
			_, err := io.WriteString(s.w, ": keep-alive\n\n")
			if err == nil {
				s.flusher.Flush()
			}
			s.mu.Unlock()
			if err != nil {
				return
			}
		case <-s.stopHeart:
			return
		}
	}
}

func (s *Writer) send(ev model.RelayEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Send 发送一个事件；错误事件之后的任何事件都会被拒绝
func (s *Writer) Send(ev model.RelayEvent) error {
	if ev.Error != nil {
		return s.SendError(*ev.Error)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.send(ev)
}

// SendError 发送终止错误事件，每个流最多一次，之后流即关闭
func (s *Writer) SendError(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.errorSent {
		return ErrClosed
	}
	s.errorSent = true
	s.closed = true
	s.stop()
	return s.send(model.ErrorEvent(msg))
}

// ErrorSent 是否已发送过错误事件
func (s *Writer) ErrorSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorSent
}

// Close 结束流（不写终止帧，流关闭本身就是结束信号）
func (s *Writer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stop()
}

func (s *Writer) stop() {
	s.stopOnce.Do(func() { close(s.stopHeart) })
}
