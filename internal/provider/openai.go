package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 120 * time.Second

	// maxResponseBody caps how much of a provider reply is read (10MB).
	maxResponseBody = 10 << 20
)

// OpenAIOptions configures the OpenAI-backed factory.
type OpenAIOptions struct {
	// BaseURL overrides the API endpoint (tests, proxies).
	BaseURL string

	// HTTPClient overrides the underlying client. Default: 120s timeout.
	HTTPClient *http.Client
}

// OpenAIFactory builds OpenAI clients for per-tenant API keys.
type OpenAIFactory struct {
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIFactory creates a factory with the given options.
func NewOpenAIFactory(opts OpenAIOptions) *OpenAIFactory {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &OpenAIFactory{baseURL: baseURL, httpClient: httpClient}
}

// ClientFor returns a client bound to the given API key.
func (f *OpenAIFactory) ClientFor(apiKey string) Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = f.baseURL
	cfg.HTTPClient = f.httpClient
	return &openAIClient{
		apiKey:     apiKey,
		baseURL:    f.baseURL,
		httpClient: f.httpClient,
		oai:        openai.NewClientWithConfig(cfg),
	}
}

// openAIClient implements Client against OpenAI. Vector-store management and
// error typing go through go-openai; the response call itself targets the
// responses endpoint, which the SDK does not cover, so it is issued directly.
type openAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	oai        *openai.Client
}

type wireInput struct {
	Type    string `json:"type,omitempty"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	CallID  string `json:"call_id,omitempty"`
	Output  string `json:"output,omitempty"`
}

type wireRequest struct {
	Model              string            `json:"model"`
	Instructions       string            `json:"instructions,omitempty"`
	Input              []wireInput       `json:"input"`
	Tools              []map[string]any  `json:"tools,omitempty"`
	ToolChoice         string            `json:"tool_choice,omitempty"`
	MaxOutputTokens    int               `json:"max_output_tokens,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	PreviousResponseID string            `json:"previous_response_id,omitempty"`
	Include            []string          `json:"include,omitempty"`
}

type wireAnnotation struct {
	Type     string `json:"type"`
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
}

type wireContent struct {
	Type        string           `json:"type"`
	Text        string           `json:"text"`
	Annotations []wireAnnotation `json:"annotations"`
}

type wireSearchResult struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
}

type wireOutput struct {
	Type      string             `json:"type"`
	Content   []wireContent      `json:"content"`
	CallID    string             `json:"call_id"`
	Name      string             `json:"name"`
	Arguments string             `json:"arguments"`
	Results   []wireSearchResult `json:"results"`
}

type wireResponse struct {
	ID     string       `json:"id"`
	Output []wireOutput `json:"output"`
	Usage  *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateResponse performs one call against the responses endpoint.
func (c *openAIClient) CreateResponse(ctx context.Context, req *Request) (resp *Response, err error) {
	defer func() { recordRequest(err) }()

	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	body := wireRequest{
		Model:              req.Model,
		Instructions:       req.Instructions,
		Input:              make([]wireInput, 0, len(req.Input)),
		ToolChoice:         req.ToolChoice,
		MaxOutputTokens:    req.MaxOutputTokens,
		Metadata:           req.Metadata,
		PreviousResponseID: req.PreviousResponseID,
	}
	for _, item := range req.Input {
		if item.CallID != "" {
			body.Input = append(body.Input, wireInput{
				Type:   "function_call_output",
				CallID: item.CallID,
				Output: item.Output,
			})
			continue
		}
		body.Input = append(body.Input, wireInput{Role: item.Role, Content: item.Content})
	}
	for _, tool := range req.Tools {
		body.Tools = append(body.Tools, map[string]any{
			"type":        "function",
			"name":        tool.Name,
			"description": tool.Description,
			"parameters":  tool.Parameters,
			"strict":      true,
		})
	}
	if len(req.VectorStoreIDs) > 0 {
		body.Tools = append(body.Tools, map[string]any{
			"type":             "file_search",
			"vector_store_ids": req.VectorStoreIDs,
		})
		body.Include = []string{"file_search_call.results"}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var wire wireResponse
	if decodeErr := json.Unmarshal(payload, &wire); decodeErr != nil && httpResp.StatusCode < 300 {
		return nil, fmt.Errorf("decode response: %w", decodeErr)
	}

	if httpResp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: httpResp.StatusCode, Message: http.StatusText(httpResp.StatusCode)}
		if wire.Error != nil {
			apiErr.Type = wire.Error.Type
			apiErr.Code = wire.Error.Code
			apiErr.Message = wire.Error.Message
		}
		return nil, apiErr
	}

	return decodeResponse(&wire), nil
}

func decodeResponse(wire *wireResponse) *Response {
	resp := &Response{ID: wire.ID}
	if wire.Usage != nil {
		resp.Usage = Usage{
			InputTokens:  wire.Usage.InputTokens,
			OutputTokens: wire.Usage.OutputTokens,
		}
	}

	var text strings.Builder
	for _, item := range wire.Output {
		switch item.Type {
		case "message":
			for _, part := range item.Content {
				if part.Type != "output_text" {
					continue
				}
				text.WriteString(part.Text)
				for _, ann := range part.Annotations {
					if ann.Type == "file_citation" {
						resp.FileCitations = append(resp.FileCitations, FileCitation{
							FileID:   ann.FileID,
							FileName: ann.Filename,
						})
					}
				}
			}
		case "function_call":
			resp.FunctionCalls = append(resp.FunctionCalls, FunctionCall{
				CallID:    item.CallID,
				Name:      item.Name,
				Arguments: item.Arguments,
			})
		case "file_search_call":
			for _, res := range item.Results {
				resp.FileCitations = append(resp.FileCitations, FileCitation{
					FileID:   res.FileID,
					FileName: res.Filename,
				})
			}
		}
	}
	resp.OutputText = text.String()
	return resp
}

// ValidateVectorStore checks the index still exists upstream.
func (c *openAIClient) ValidateVectorStore(ctx context.Context, id string) error {
	if c.apiKey == "" {
		return ErrNoAPIKey
	}
	_, err := c.oai.RetrieveVectorStore(ctx, id)
	recordRequest(err)
	return err
}

// CreateVectorStore provisions a new index.
func (c *openAIClient) CreateVectorStore(ctx context.Context, name string) (string, error) {
	if c.apiKey == "" {
		return "", ErrNoAPIKey
	}
	vs, err := c.oai.CreateVectorStore(ctx, openai.VectorStoreRequest{Name: name})
	recordRequest(err)
	if err != nil {
		return "", fmt.Errorf("create vector store: %w", err)
	}
	return vs.ID, nil
}
