package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topictrend-go/internal/fetcher"
	"topictrend-go/internal/logging"
	"topictrend-go/internal/model"
)

type fakeStreamer struct {
	body     string
	err      error
	panicMsg string
	messages []fetcher.Message
}

func (f *fakeStreamer) Stream(ctx context.Context, messages []fetcher.Message) (io.ReadCloser, error) {
	f.messages = messages
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

type recordingWriter struct {
	contents []string
	errors   []string
	failSend error
}

func (w *recordingWriter) Send(ev model.RelayEvent) error {
	if w.failSend != nil {
		return w.failSend
	}
	if ev.Error != nil {
		return w.SendError(*ev.Error)
	}
	w.contents = append(w.contents, *ev.Content)
	return nil
}

func (w *recordingWriter) SendError(msg string) error {
	w.errors = append(w.errors, msg)
	return nil
}

func TestAnalyzeRelaysFragments(t *testing.T) {
	streamer := &fakeStreamer{body: strings.Join([]string{
		`data: {"output":{"choices":[{"message":{"content":"A"}}]}}`,
		`data: {"choices":[{"delta":{"content":"B"}}]}`,
		`: keep-alive`,
		`data: {"choices":[{"delta":{"content":"C"}}]}`,
		`data: [DONE]`,
	}, "\n\n")}
	w := &recordingWriter{}

	svc := NewAnalysisService(streamer, logging.Discard())
	err := svc.Analyze(context.Background(), model.AnalysisRequest{Content: "topic 1: graph", Type: model.CategoryTrends}, w)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, w.contents)
	assert.Empty(t, w.errors)

	require.Len(t, streamer.messages, 2)
	assert.Equal(t, "system", streamer.messages[0].Role)
	assert.Equal(t, "user", streamer.messages[1].Role)
	assert.Contains(t, streamer.messages[1].Content, "topic 1: graph")
	assert.Contains(t, streamer.messages[1].Content, "强度变化")
}

func TestAnalyzeUpstreamStatusError(t *testing.T) {
	streamer := &fakeStreamer{err: &fetcher.StatusError{StatusCode: 401, Body: `{"message":"bad key"}`}}
	w := &recordingWriter{}

	err := NewAnalysisService(streamer, logging.Discard()).Analyze(context.Background(), model.AnalysisRequest{Content: "x", Type: model.CategoryGeneral}, w)

	var statusErr *fetcher.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Empty(t, w.contents)
	require.Len(t, w.errors, 1)
	assert.Contains(t, w.errors[0], "401")
	assert.Contains(t, w.errors[0], "bad key")
}

func TestAnalyzeReadErrorAfterFragments(t *testing.T) {
	body := io.MultiReader(
		strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n"),
		errReader{fetcher.ErrIdleTimeout},
	)
	streamer := &readerStreamer{r: body}
	w := &recordingWriter{}

	err := NewAnalysisService(streamer, logging.Discard()).Analyze(context.Background(), model.AnalysisRequest{Content: "x"}, w)
	assert.ErrorIs(t, err, fetcher.ErrIdleTimeout)
	assert.Equal(t, []string{"partial"}, w.contents)
	require.Len(t, w.errors, 1)
	assert.Contains(t, w.errors[0], "idle timeout")
}

func TestAnalyzeClientGoneSendsNothingMore(t *testing.T) {
	streamer := &fakeStreamer{body: "data: {\"choices\":[{\"delta\":{\"content\":\"A\"}}]}\n\n"}
	w := &recordingWriter{failSend: errors.New("broken pipe")}

	err := NewAnalysisService(streamer, logging.Discard()).Analyze(context.Background(), model.AnalysisRequest{Content: "x"}, w)
	require.Error(t, err)
	assert.Empty(t, w.errors)
}

func TestAnalyzeRecoversPanic(t *testing.T) {
	streamer := &fakeStreamer{panicMsg: "boom"}
	w := &recordingWriter{}

	err := NewAnalysisService(streamer, logging.Discard()).Analyze(context.Background(), model.AnalysisRequest{Content: "x"}, w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{"internal error"}, w.errors)
}

func TestBuildMessagesPerCategory(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range model.AllCategories {
		msgs := BuildMessages(model.AnalysisRequest{Content: "payload", Type: c})
		require.Len(t, msgs, 2)
		assert.Contains(t, msgs[1].Content, "payload")
		assert.False(t, seen[msgs[1].Content], "category %s reuses another template", c)
		seen[msgs[1].Content] = true
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

type readerStreamer struct{ r io.Reader }

func (s *readerStreamer) Stream(ctx context.Context, _ []fetcher.Message) (io.ReadCloser, error) {
	return io.NopCloser(s.r), nil
}
