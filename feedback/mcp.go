package feedback

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/feedbackvos/capture"
	feedbackerrors "github.com/hazyhaar/feedbackvos/internal/errors"
	"github.com/hazyhaar/feedbackvos/kit"
)

// RegisterMCP registers the feedback tools on an MCP server.
func (w *Widget) RegisterMCP(srv *mcp.Server) {
	w.registerCaptureTool(srv)
	w.registerSubmitTool(srv)
}

// --- capture ---

type captureToolReq struct {
	PageURL        string `json:"page_url"`
	ViewportWidth  int    `json:"viewport_width"`
	ViewportHeight int    `json:"viewport_height"`
}

type captureToolResp struct {
	SessionID string `json:"session_id"`
	Captured  bool   `json:"captured"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

func (w *Widget) registerCaptureTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "feedback_capture",
		Description: "Capture a page screenshot into a new feedback session. Pass the returned session_id to feedback_submit to attach it.",
		InputSchema: kit.InputSchema(map[string]any{
			"page_url":        map[string]any{"type": "string", "description": "Page to capture (http or https)"},
			"viewport_width":  map[string]any{"type": "integer", "description": "Viewport width in CSS pixels (default 1920)"},
			"viewport_height": map[string]any{"type": "integer", "description": "Viewport height in CSS pixels (default 1080)"},
		}, []string{"page_url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*captureToolReq)
		s := w.sessions.Create()
		captured, err := w.captureInto(ctx, s, r.PageURL, r.ViewportWidth, r.ViewportHeight)
		if err != nil {
			w.sessions.Delete(s.ID)
			return nil, err
		}
		resp := &captureToolResp{SessionID: s.ID, Captured: captured}
		if shot := s.Screenshot(); shot != nil {
			resp.Width, resp.Height = shot.Width, shot.Height
		}
		return resp, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r captureToolReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- submit ---

type submitToolReq struct {
	Type      string `json:"type"`
	Comment   string `json:"comment"`
	Format    string `json:"format"`
	PageURL   string `json:"page_url"`
	SessionID string `json:"session_id"`
}

func (w *Widget) registerSubmitTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "feedback_submit",
		Description: "File feedback (bug, idea or other) as an issue. Optionally capture page_url first, or reuse the screenshot of a feedback_capture session.",
		InputSchema: kit.InputSchema(map[string]any{
			"type":       map[string]any{"type": "string", "enum": []string{"bug", "idea", "other"}},
			"comment":    map[string]any{"type": "string", "description": "Feedback text (Markdown)"},
			"format":     map[string]any{"type": "string", "enum": []string{"text", "html"}, "description": "Comment format, default text"},
			"page_url":   map[string]any{"type": "string", "description": "Page to capture and attach"},
			"session_id": map[string]any{"type": "string", "description": "Session returned by feedback_capture"},
		}, []string{"type", "comment"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*submitToolReq)
		var s *Session
		if r.SessionID != "" {
			got, err := w.sessions.Get(r.SessionID)
			if err != nil {
				return nil, err
			}
			s = got
		} else {
			s = w.sessions.Create()
		}
		ctx = kit.WithSessionID(ctx, s.ID)

		receipt, err := w.submitVia(ctx, s, r)
		if err != nil {
			if r.SessionID == "" {
				w.sessions.Delete(s.ID)
			}
			return nil, err
		}
		w.sessions.Delete(s.ID)
		return receipt, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r submitToolReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (w *Widget) submitVia(ctx context.Context, s *Session, r *submitToolReq) (*Receipt, error) {
	if r.PageURL != "" {
		if _, err := w.captureInto(ctx, s, r.PageURL, 0, 0); err != nil {
			return nil, err
		}
	}
	return s.Submit(ctx, Form{Type: r.Type, Comment: r.Comment, Format: r.Format})
}

// captureInto captures pageURL and saves it as the session's screenshot
// without annotation. It reports false when the page rendered to nothing.
func (w *Widget) captureInto(ctx context.Context, s *Session, pageURL string, vw, vh int) (bool, error) {
	if pageURL == "" {
		return false, feedbackerrors.NewInvalidRequest("page_url is required")
	}
	shot, err := s.TakeScreenshot(ctx, capture.Request{
		URL:      pageURL,
		Viewport: capture.Viewport{Width: vw, Height: vh},
	})
	if err != nil || shot == nil {
		return false, err
	}
	if _, err := s.SaveEdit(); err != nil {
		return false, err
	}
	return true, nil
}
