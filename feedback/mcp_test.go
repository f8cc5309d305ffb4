package feedback

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMCPImpl = &mcp.Implementation{Name: "feedback-test", Version: "0.1.0"}

func mcpSession(t *testing.T, w *Widget) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	w.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCall(t *testing.T, session *mcp.ClientSession, name string, args any) (*mcp.CallToolResult, string) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	var text string
	if len(result.Content) > 0 {
		if tc, ok := result.Content[0].(*mcp.TextContent); ok {
			text = tc.Text
		}
	}
	return result, text
}

func TestMCP_SubmitWithCapture(t *testing.T) {
	integ := &fakeIntegration{}
	capt := &fakeCapturer{w: 1920, h: 1080}
	w, err := New(Config{Integration: integ, Capturer: capt, Appearance: Appearance{Enabled: true}})
	require.NoError(t, err)
	t.Cleanup(w.Close)
	session := mcpSession(t, w)

	result, text := mcpCall(t, session, "feedback_submit", map[string]any{
		"type": "bug", "comment": "chart is empty", "page_url": "https://app.test/dash",
	})
	require.NoError(t, result.GetError())

	var receipt Receipt
	require.NoError(t, json.Unmarshal([]byte(text), &receipt))
	assert.Equal(t, 1, receipt.IssueNumber)

	subs := integ.submissions()
	require.Len(t, subs, 1)
	assert.NotNil(t, subs[0].Screenshot)
	require.Len(t, capt.reqs, 1)
	assert.Equal(t, "https://app.test/dash", capt.reqs[0].URL)
	assert.Zero(t, w.Sessions().Len(), "one-shot session is torn down")
}

func TestMCP_CaptureThenSubmit(t *testing.T) {
	integ := &fakeIntegration{}
	w, err := New(Config{Integration: integ, Capturer: &fakeCapturer{w: 800, h: 600}})
	require.NoError(t, err)
	t.Cleanup(w.Close)
	session := mcpSession(t, w)

	result, text := mcpCall(t, session, "feedback_capture", map[string]any{"page_url": "https://app.test/"})
	require.NoError(t, result.GetError())
	var got captureToolResp
	require.NoError(t, json.Unmarshal([]byte(text), &got))
	assert.True(t, got.Captured)
	assert.Equal(t, 800, got.Width)

	result, _ = mcpCall(t, session, "feedback_submit", map[string]any{
		"type": "other", "comment": "see screenshot", "session_id": got.SessionID,
	})
	require.NoError(t, result.GetError())
	require.Len(t, integ.submissions(), 1)
	assert.NotNil(t, integ.submissions()[0].Screenshot)
}

func TestMCP_SubmitErrorIsToolError(t *testing.T) {
	w, err := New(Config{Integration: &fakeIntegration{}})
	require.NoError(t, err)
	t.Cleanup(w.Close)
	session := mcpSession(t, w)

	result, _ := mcpCall(t, session, "feedback_submit", map[string]any{"type": "bug", "comment": ""})
	assert.True(t, result.IsError)
}
