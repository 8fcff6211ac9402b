package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openresponses/orchestrator/internal/chatmodel"
	"github.com/openresponses/orchestrator/internal/itemstore"
	"github.com/openresponses/orchestrator/internal/toolexec"
)

// recordingSink captures every event sent to it, in order.
type recordingSink struct {
	mu     sync.Mutex
	events []string
	data   []any
	done   bool
}

func (s *recordingSink) Send(ctx context.Context, event string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.data = append(s.data, data)
	return nil
}

func (s *recordingSink) Done(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	return nil
}

// stubStreamClient returns one pre-built stream (as a closed channel
// of chunks) per call, cycling to the last one if Stream recurses
// further than streams were queued.
type stubStreamClient struct {
	streams [][]chatmodel.StreamChunk
	calls   int
}

func (c *stubStreamClient) StreamCompletion(ctx context.Context, req chatmodel.ResponseCreateRequest) (<-chan chatmodel.StreamChunk, error) {
	idx := c.calls
	if idx >= len(c.streams) {
		idx = len(c.streams) - 1
	}
	c.calls++
	ch := make(chan chatmodel.StreamChunk, len(c.streams[idx]))
	for _, chunk := range c.streams[idx] {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func textChunk(id, content string, finish chatmodel.FinishReason) chatmodel.StreamChunk {
	return chatmodel.StreamChunk{
		ID: id,
		Choices: []chatmodel.StreamChoice{{
			Index:        0,
			Delta:        chatmodel.StreamDelta{Content: content},
			FinishReason: finish,
		}},
	}
}

func toolCallChunk(id, callID, name, arguments string) chatmodel.StreamChunk {
	return chatmodel.StreamChunk{
		ID: id,
		Choices: []chatmodel.StreamChoice{{
			Index: 0,
			Delta: chatmodel.StreamDelta{ToolCalls: []chatmodel.ToolCall{
				{Index: 0, ID: callID, Type: "function", Function: chatmodel.FunctionCall{Name: name, Arguments: arguments}},
			}},
			FinishReason: chatmodel.FinishToolCalls,
		}},
	}
}

func TestStream_ForwardsChunksAndEndsWithDone(t *testing.T) {
	client := &stubStreamClient{streams: [][]chatmodel.StreamChunk{
		{textChunk("resp-1", "hel", ""), textChunk("resp-1", "lo", chatmodel.FinishStop)},
	}}
	sink := &recordingSink{}
	orch := NewStreaming(client, itemstore.NewMemoryStore())

	err := orch.Stream(context.Background(), chatmodel.ResponseCreateRequest{Store: true}, newExecutor(nil), nil, sink)
	require.NoError(t, err)
	require.Len(t, sink.events, 2)
	assert.Equal(t, EventChunk, sink.events[0])
	assert.True(t, sink.done)
}

func TestStream_ReassemblesContentAcrossChunks(t *testing.T) {
	client := &stubStreamClient{streams: [][]chatmodel.StreamChunk{
		{textChunk("resp-1", "hel", ""), textChunk("resp-1", "lo", chatmodel.FinishStop)},
	}}
	store := itemstore.NewMemoryStore()
	orch := NewStreaming(client, store)

	req := chatmodel.ResponseCreateRequest{Store: true}
	require.NoError(t, orch.Stream(context.Background(), req, newExecutor(nil), nil, &recordingSink{}))

	stored, err := store.GetResponse(context.Background(), "resp-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Choices[0].Message.Content)
}

func TestStream_CoalescesToolCallArgumentsByIndex(t *testing.T) {
	split1 := toolCallChunk("resp-1", "call_1", "file_search", `{"query":`)
	split2 := chatmodel.StreamChunk{
		ID: "resp-1",
		Choices: []chatmodel.StreamChoice{{
			Index:        0,
			Delta:        chatmodel.StreamDelta{ToolCalls: []chatmodel.ToolCall{{Index: 0, Function: chatmodel.FunctionCall{Arguments: `"x"}`}}}},
			FinishReason: chatmodel.FinishToolCalls,
		}},
	}
	client := &stubStreamClient{streams: [][]chatmodel.StreamChunk{
		{split1, split2},
		{textChunk("resp-2", "done", chatmodel.FinishStop)},
	}}
	handlers := map[string]toolexec.NativeHandler{
		"file_search": func(ctx context.Context, arguments string, req chatmodel.ResponseCreateRequest, metadata map[string]string) (string, error) {
			assert.Equal(t, `{"query":"x"}`, arguments)
			return "found", nil
		},
	}
	orch := NewStreaming(client, itemstore.NewMemoryStore())

	err := orch.Stream(context.Background(), chatmodel.ResponseCreateRequest{}, newExecutor(handlers, "file_search"), nil, &recordingSink{})
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
}

func TestStream_TerminalToolEmitsFinalChunkThenDone(t *testing.T) {
	client := &stubStreamClient{streams: [][]chatmodel.StreamChunk{
		{toolCallChunk("resp-1", "call_1", "image_generation", `{"prompt":"cat"}`)},
	}}
	handlers := map[string]toolexec.NativeHandler{
		"image_generation": func(ctx context.Context, arguments string, req chatmodel.ResponseCreateRequest, metadata map[string]string) (string, error) {
			return "an image", nil
		},
	}
	sink := &recordingSink{}
	orch := NewStreaming(client, itemstore.NewMemoryStore())

	err := orch.Stream(context.Background(), chatmodel.ResponseCreateRequest{}, newExecutor(handlers, "image_generation"), nil, sink)
	require.NoError(t, err)
	require.Len(t, sink.events, 2)
	assert.Equal(t, EventChunk, sink.events[1])
	final := sink.data[1].(chatmodel.StreamChunk)
	assert.Equal(t, "an image", final.Choices[0].Delta.Content)
	assert.True(t, sink.done)
}

func TestStream_UnresolvedClientToolStopsAfterOneIteration(t *testing.T) {
	client := &stubStreamClient{streams: [][]chatmodel.StreamChunk{
		{toolCallChunk("resp-1", "call_1", "browser", `{}`)},
	}}
	sink := &recordingSink{}
	orch := NewStreaming(client, itemstore.NewMemoryStore())

	err := orch.Stream(context.Background(), chatmodel.ResponseCreateRequest{}, newExecutor(nil, "browser"), nil, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls)
	assert.True(t, sink.done)
}

func TestStream_UpstreamOpenErrorEmitsErrorThenDone(t *testing.T) {
	client := &failingStreamClient{err: errors.New("connection refused")}
	sink := &recordingSink{}
	orch := NewStreaming(client, itemstore.NewMemoryStore())

	err := orch.Stream(context.Background(), chatmodel.ResponseCreateRequest{}, newExecutor(nil), nil, sink)
	require.NoError(t, err)
	require.Len(t, sink.events, 1)
	assert.Equal(t, EventError, sink.events[0])
	assert.True(t, sink.done)
}

type failingStreamClient struct{ err error }

func (c *failingStreamClient) StreamCompletion(ctx context.Context, req chatmodel.ResponseCreateRequest) (<-chan chatmodel.StreamChunk, error) {
	return nil, c.err
}

func TestStream_TransportErrorChunkEmitsErrorThenDone(t *testing.T) {
	ch := make(chan chatmodel.StreamChunk, 2)
	ch <- textChunk("resp-1", "partial", "")
	ch <- chatmodel.StreamChunk{Err: errors.New("stream broke")}
	close(ch)
	client := &channelStreamClient{ch: ch}
	sink := &recordingSink{}
	orch := NewStreaming(client, itemstore.NewMemoryStore())

	err := orch.Stream(context.Background(), chatmodel.ResponseCreateRequest{}, newExecutor(nil), nil, sink)
	require.NoError(t, err)
	assert.Equal(t, EventChunk, sink.events[0])
	assert.Equal(t, EventError, sink.events[1])
	assert.True(t, sink.done)
}

type channelStreamClient struct{ ch chan chatmodel.StreamChunk }

func (c *channelStreamClient) StreamCompletion(ctx context.Context, req chatmodel.ResponseCreateRequest) (<-chan chatmodel.StreamChunk, error) {
	return c.ch, nil
}

// disconnectingSink fails every Send, simulating a client that has gone
// away mid-stream.
type disconnectingSink struct {
	done bool
}

func (s *disconnectingSink) Send(ctx context.Context, event string, data any) error {
	return errors.New("client disconnected")
}

func (s *disconnectingSink) Done(ctx context.Context) error {
	s.done = true
	return nil
}

func TestStream_SinkDisconnectStopsLoopAndFlushesDone(t *testing.T) {
	client := &stubStreamClient{streams: [][]chatmodel.StreamChunk{
		{toolCallChunk("resp-1", "call-1", "get_weather", `{"city":"ny"}`)},
		{textChunk("resp-2", "should never be reached", chatmodel.FinishStop)},
	}}
	sink := &disconnectingSink{}
	orch := NewStreaming(client, itemstore.NewMemoryStore())

	err := orch.Stream(context.Background(), chatmodel.ResponseCreateRequest{}, newExecutor(nil), nil, sink)
	require.NoError(t, err)
	assert.True(t, sink.done, "Done must still be called so upstream sees [DONE]")
	assert.Equal(t, 1, client.calls, "a disconnected sink must not keep the tool loop going for another round")
}
