package narration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topictrend-go/internal/logging"
	"topictrend-go/internal/model"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// chunkReader 每次 Read 只返回一个预先切好的块
type chunkReader struct {
	chunks [][]byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func splitEvery(data []byte, size int) [][]byte {
	var out [][]byte
	for len(data) > size {
		out = append(out, data[:size])
		data = data[size:]
	}
	return append(out, data)
}

func streamResponse(status int, body io.Reader) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": {"text/event-stream"}},
		Body:       io.NopCloser(body),
	}
}

func newTestSession(rt roundTripFunc) *Session {
	return NewSession("http://narrate.test/", &http.Client{Transport: rt}, logging.Discard())
}

func frames(lines ...string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n\n")
	}
	return b.String()
}

func contentFrame(t *testing.T, s string) string {
	t.Helper()
	raw, err := json.Marshal(model.ContentEvent(s))
	require.NoError(t, err)
	return "data: " + string(raw)
}

func analyze(t *testing.T, s *Session, content string) Snapshot {
	t.Helper()
	done, err := s.Analyze(context.Background(), model.AnalysisRequest{Content: content, Type: model.CategoryTopics})
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("analysis did not finish")
	}
	return s.Snapshot()
}

func TestAnalyzeAnyChunking(t *testing.T) {
	contents := []string{"主题", " trends ", "grow🚀", "naïve\ttext", ""}
	stream := []byte(frames(
		contentFrame(t, contents[0]),
		contentFrame(t, contents[1]),
		": keep-alive",
		contentFrame(t, contents[2]),
		contentFrame(t, contents[3]),
		contentFrame(t, contents[4]),
		"data: [DONE]",
	))
	want := strings.Join(contents, "")

	for size := 1; size <= len(stream); size++ {
		s := newTestSession(func(r *http.Request) (*http.Response, error) {
			return streamResponse(http.StatusOK, &chunkReader{chunks: splitEvery(stream, size)}), nil
		})
		snap := analyze(t, s, "x")
		require.Equal(t, want, snap.Text, "chunk size %d", size)
		require.Equal(t, StateDone, snap.State, "chunk size %d", size)
		require.Empty(t, snap.Err)
	}
}

func TestAnalyzeStopsAtDone(t *testing.T) {
	s := newTestSession(func(r *http.Request) (*http.Response, error) {
		return streamResponse(http.StatusOK, strings.NewReader(frames(
			contentFrame(t, "A"),
			"data: [DONE]",
			contentFrame(t, "late"),
			`data: {"error":"late error"}`,
		))), nil
	})

	snap := analyze(t, s, "x")
	assert.Equal(t, "A", snap.Text)
	assert.Equal(t, StateDone, snap.State)
	assert.Empty(t, snap.Err)
}

func TestAnalyzeSkipsMalformedLines(t *testing.T) {
	s := newTestSession(func(r *http.Request) (*http.Response, error) {
		return streamResponse(http.StatusOK, strings.NewReader(frames(
			contentFrame(t, "A"),
			"data: {not json",
			"event: message",
			contentFrame(t, "B"),
		))), nil
	})

	snap := analyze(t, s, "x")
	assert.Equal(t, "AB", snap.Text)
	assert.Equal(t, StateDone, snap.State)
}

func TestAnalyzeFinalLineWithoutNewline(t *testing.T) {
	s := newTestSession(func(r *http.Request) (*http.Response, error) {
		return streamResponse(http.StatusOK, strings.NewReader(contentFrame(t, "A")+"\n"+contentFrame(t, "B"))), nil
	})

	snap := analyze(t, s, "x")
	assert.Equal(t, "AB", snap.Text)
}

func TestAnalyzeNon2xx(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"json error body", http.StatusBadRequest, `{"error":"content is required"}`, "content is required"},
		{"plain body", http.StatusBadGateway, "upstream down", "upstream down"},
		{"empty body", http.StatusServiceUnavailable, "", "Service Unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(func(r *http.Request) (*http.Response, error) {
				return streamResponse(tt.status, strings.NewReader(tt.body)), nil
			})
			snap := analyze(t, s, "x")
			assert.Equal(t, StateErrored, snap.State)
			assert.Empty(t, snap.Text)
			assert.Contains(t, snap.Err, tt.wantErr)
		})
	}
}

func TestAnalyzeTransportError(t *testing.T) {
	s := newTestSession(func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	snap := analyze(t, s, "x")
	assert.Equal(t, StateErrored, snap.State)
	assert.Contains(t, snap.Err, "connection refused")
}

func TestAnalyzeErrorFrameAfterContent(t *testing.T) {
	s := newTestSession(func(r *http.Request) (*http.Response, error) {
		return streamResponse(http.StatusOK, strings.NewReader(frames(
			contentFrame(t, "one "),
			contentFrame(t, "two"),
			`data: {"error":"upstream idle timeout"}`,
			contentFrame(t, "three"),
		))), nil
	})

	snap := analyze(t, s, "x")
	assert.Equal(t, "one two", snap.Text)
	assert.Equal(t, StateErrored, snap.State)
	assert.Equal(t, "upstream idle timeout", snap.Err)
}

func TestAnalyzeEmptyContentIsSynchronous(t *testing.T) {
	var calls atomic.Int32
	s := newTestSession(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return streamResponse(http.StatusOK, strings.NewReader("")), nil
	})

	for _, content := range []string{"", "   ", "\n\t"} {
		done, err := s.Analyze(context.Background(), model.AnalysisRequest{Content: content})
		assert.ErrorIs(t, err, model.ErrEmptyContent)
		assert.Nil(t, done)
		assert.Equal(t, StateErrored, s.Snapshot().State)
		assert.Equal(t, model.ErrEmptyContent.Error(), s.Snapshot().Err)
	}
	assert.Equal(t, int32(0), calls.Load())
}

func TestAnalyzeSupersedesPreviousRequest(t *testing.T) {
	firstR, firstW := io.Pipe()
	var firstCtx context.Context
	var mu sync.Mutex

	s := newTestSession(func(r *http.Request) (*http.Response, error) {
		var body model.AnalysisRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, err
		}
		if body.Content == "first" {
			mu.Lock()
			firstCtx = r.Context()
			mu.Unlock()
			return streamResponse(http.StatusOK, firstR), nil
		}
		return streamResponse(http.StatusOK, strings.NewReader(frames(contentFrame(t, "second"), "data: [DONE]"))), nil
	})

	firstDone, err := s.Analyze(context.Background(), model.AnalysisRequest{Content: "first"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstCtx != nil
	}, 2*time.Second, 5*time.Millisecond)

	snap := analyze(t, s, "second")
	assert.Equal(t, "second", snap.Text)
	assert.Equal(t, StateDone, snap.State)

	// 旧请求已被取消，迟到的数据不会进入缓冲
	mu.Lock()
	assert.Error(t, firstCtx.Err())
	mu.Unlock()
	go firstW.Write([]byte(frames(contentFrame(t, "stale"), `data: {"error":"stale"}`)))
	firstW.Close()
	<-firstDone

	snap = s.Snapshot()
	assert.Equal(t, "second", snap.Text)
	assert.Equal(t, StateDone, snap.State)
	assert.Empty(t, snap.Err)
}

func TestClearKeepsRequestRunning(t *testing.T) {
	r, w := io.Pipe()
	s := newTestSession(func(*http.Request) (*http.Response, error) {
		return streamResponse(http.StatusOK, r), nil
	})

	done, err := s.Analyze(context.Background(), model.AnalysisRequest{Content: "x"})
	require.NoError(t, err)

	_, err = w.Write([]byte(frames(contentFrame(t, "before"))))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Snapshot().Text == "before" }, 2*time.Second, 5*time.Millisecond)

	s.Clear()
	assert.Empty(t, s.Snapshot().Text)
	assert.True(t, s.Busy())

	_, err = w.Write([]byte(frames(contentFrame(t, "after"), "data: [DONE]")))
	require.NoError(t, err)
	w.Close()
	<-done

	snap := s.Snapshot()
	assert.Equal(t, "after", snap.Text)
	assert.Equal(t, StateDone, snap.State)
	assert.False(t, s.Busy())
}

func TestCancelDropsLaterOutput(t *testing.T) {
	r, w := io.Pipe()
	s := newTestSession(func(*http.Request) (*http.Response, error) {
		return streamResponse(http.StatusOK, r), nil
	})

	done, err := s.Analyze(context.Background(), model.AnalysisRequest{Content: "x"})
	require.NoError(t, err)
	_, err = w.Write([]byte(frames(contentFrame(t, "kept"))))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Snapshot().Text == "kept" }, 2*time.Second, 5*time.Millisecond)

	s.Cancel()
	go w.Write([]byte(frames(contentFrame(t, "dropped"))))
	w.Close()
	<-done

	snap := s.Snapshot()
	assert.Equal(t, "kept", snap.Text)
	assert.Equal(t, StateIdle, snap.State)
}

func TestListenersSeeOrderedSnapshots(t *testing.T) {
	s := newTestSession(func(r *http.Request) (*http.Response, error) {
		return streamResponse(http.StatusOK, strings.NewReader(frames(
			contentFrame(t, "A"),
			contentFrame(t, "B"),
			"data: [DONE]",
		))), nil
	})

	var mu sync.Mutex
	var snaps []Snapshot
	s.OnChange(func(snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		snaps = append(snaps, snap)
	})

	analyze(t, s, "x")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, snaps, 4)
	assert.Equal(t, StateStreaming, snaps[0].State)
	assert.Equal(t, "", snaps[0].Text)
	assert.Equal(t, "A", snaps[1].Text)
	assert.True(t, snaps[1].ScrollToBottom)
	assert.Equal(t, "AB", snaps[2].Text)
	assert.Equal(t, StateDone, snaps[3].State)
	assert.False(t, snaps[3].ScrollToBottom)
}

func TestSessionPostsToAnalysisEndpoint(t *testing.T) {
	var got *http.Request
	var body model.AnalysisRequest
	s := newTestSession(func(r *http.Request) (*http.Response, error) {
		got = r
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, err
		}
		return streamResponse(http.StatusOK, strings.NewReader("")), nil
	})

	snap := analyze(t, s, "describe trends")
	assert.Equal(t, StateDone, snap.State)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "http://narrate.test/api/ai-analysis", got.URL.String())
	assert.Equal(t, "describe trends", body.Content)
	assert.Equal(t, model.CategoryTopics, body.Type)
}

func TestLineSplitter(t *testing.T) {
	var sp lineSplitter
	assert.Empty(t, sp.push("data: a"))
	assert.Equal(t, []string{"data: ab", ""}, sp.push("b\n\nda"))
	assert.Equal(t, []string{"data: c"}, sp.push("ta: c\n"))
	assert.Equal(t, "", sp.flush())
	sp.push("tail")
	assert.Equal(t, "tail", sp.flush())
}

func TestListenerReadsSessionWhileClearRuns(t *testing.T) {
	var lines []string
	for i := 0; i < 2000; i++ {
		lines = append(lines, contentFrame(t, "x"))
	}
	stream := frames(append(lines, "data: [DONE]")...)
	s := newTestSession(func(*http.Request) (*http.Response, error) {
		return streamResponse(http.StatusOK, strings.NewReader(stream)), nil
	})
	s.OnChange(func(Snapshot) {
		time.Sleep(50 * time.Microsecond)
		s.Busy()
		s.Snapshot()
	})

	done, err := s.Analyze(context.Background(), model.AnalysisRequest{Content: "x"})
	require.NoError(t, err)

	stop := make(chan struct{})
	clearing := make(chan struct{})
	go func() {
		defer close(clearing)
		for {
			select {
			case <-stop:
				return
			default:
				s.Clear()
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("session stuck: listener and Clear blocked each other")
	}
	close(stop)
	<-clearing
	assert.False(t, s.Busy())
}

func TestInvalidAnalyzeKeepsStreamingRequest(t *testing.T) {
	r, w := io.Pipe()
	s := newTestSession(func(*http.Request) (*http.Response, error) {
		return streamResponse(http.StatusOK, r), nil
	})

	done, err := s.Analyze(context.Background(), model.AnalysisRequest{Content: "x"})
	require.NoError(t, err)
	_, err = w.Write([]byte(frames(contentFrame(t, "A"))))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Snapshot().Text == "A" }, 2*time.Second, 5*time.Millisecond)

	_, err = s.Analyze(context.Background(), model.AnalysisRequest{Content: "  "})
	assert.ErrorIs(t, err, model.ErrEmptyContent)
	snap := s.Snapshot()
	assert.Equal(t, StateStreaming, snap.State)
	assert.Empty(t, snap.Err)

	_, err = w.Write([]byte(frames(contentFrame(t, "B"), "data: [DONE]")))
	require.NoError(t, err)
	w.Close()
	<-done

	snap = s.Snapshot()
	assert.Equal(t, "AB", snap.Text)
	assert.Equal(t, StateDone, snap.State)
	assert.Empty(t, snap.Err)
}
