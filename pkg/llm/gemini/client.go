package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"scholar/pkg/llm"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiClient Google Gemini API client
type GeminiClient struct {
	client       *genai.Client
	model        string
	useThought   bool
	debugEnabled bool
}

// SetDebug toggles raw chunk dumps for this client.
func (g *GeminiClient) SetDebug(enabled bool) {
	g.debugEnabled = enabled
}

// NewGeminiClient creates a Gemini client with a single model and API key
func NewGeminiClient(apiKey string, model string, useThought bool) *GeminiClient {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		log.Fatalf("❌ Fatal: Failed to create Gemini client: %v", err)
	}

	return &GeminiClient{
		client:     client,
		model:      model,
		useThought: useThought,
	}
}

func (g *GeminiClient) Provider() string {
	return "gemini"
}

// formatModality formats ModalityTokenCount array for logging
func formatModality(details []*genai.ModalityTokenCount) string {
	if len(details) == 0 {
		return "0"
	}
	var res []string
	for _, d := range details {
		res = append(res, fmt.Sprintf("%v: %d", d.Modality, d.TokenCount))
	}
	return strings.Join(res, " | ")
}

// convertTools maps canonical schemas to GenAI function declarations.
func (g *GeminiClient) convertTools(tools []llm.ToolSchema) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}

	var fds []*genai.FunctionDeclaration
	for _, t := range tools {
		fd := &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
		}
		if t.Parameters != nil {
			schemaB, _ := json.Marshal(t.Parameters)
			var schema genai.Schema
			json.Unmarshal(schemaB, &schema)
			fd.Parameters = &schema
		}
		fds = append(fds, fd)
	}

	return []*genai.Tool{{FunctionDeclarations: fds}}
}

// generateConfig assembles the shared GenerateContentConfig.
func (g *GeminiClient) generateConfig(systemInstruction *genai.Content, tools []llm.ToolSchema) *genai.GenerateContentConfig {
	var thinkingCfg *genai.ThinkingConfig
	if g.useThought {
		thinkingCfg = &genai.ThinkingConfig{
			IncludeThoughts: true,
		}
	}

	return &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction,
		Tools:             g.convertTools(tools),
		ThinkingConfig:    thinkingCfg,
	}
}

// usageFromMetadata converts GenAI usage metadata to the normalized form.
func usageFromMetadata(u *genai.GenerateContentResponseUsageMetadata) *llm.LLMUsage {
	if u == nil {
		return nil
	}
	return &llm.LLMUsage{
		PromptTokens:     int(u.PromptTokenCount),
		PromptDetail:     formatModality(u.PromptTokensDetails),
		CompletionTokens: int(u.CandidatesTokenCount),
		CompletionDetail: formatModality(u.CandidatesTokensDetails),
		TotalTokens:      int(u.TotalTokenCount),
		ThoughtsTokens:   int(u.ThoughtsTokenCount),
		CachedTokens:     int(u.CachedContentTokenCount),
	}
}

// Complete implements llm.LLMClient.Complete with a blocking GenerateContent call.
func (g *GeminiClient) Complete(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema) (*llm.Completion, error) {
	apiMessages, systemInstruction := g.convertMessages(messages)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, apiMessages, g.generateConfig(systemInstruction, tools))
	if err != nil {
		return nil, err
	}

	completion := &llm.Completion{
		StopReason: llm.StopReasonStop,
	}
	completion.Usage = usageFromMetadata(resp.UsageMetadata)

	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				if part.Thought {
					completion.Content = append(completion.Content, llm.NewThinkingBlock(part.Text))
				} else {
					completion.Content = append(completion.Content, llm.NewTextBlock(part.Text))
				}
			}
			if part.FunctionCall != nil {
				argsB, _ := json.Marshal(part.FunctionCall.Args)
				completion.ToolCalls = append(completion.ToolCalls, llm.ToolCall{
					ID:   part.FunctionCall.ID,
					Name: part.FunctionCall.Name,
					Function: llm.FunctionCall{
						Name:      part.FunctionCall.Name,
						Arguments: string(argsB),
					},
					Meta: map[string]any{
						"gemini_function_call": part.FunctionCall,
					},
				})
			}
		}
		if candidate.FinishReason != "" && completion.Usage != nil {
			completion.Usage.StopReason = string(candidate.FinishReason)
		}
	}

	if len(completion.ToolCalls) > 0 {
		completion.StopReason = llm.StopReasonToolCall
	}

	return completion, nil
}

// StreamChat implements llm.LLMClient.StreamChat
func (g *GeminiClient) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema) (<-chan llm.StreamChunk, error) {
	// Convert messages
	apiMessages, systemInstruction := g.convertMessages(messages)

	chunkCh := make(chan llm.StreamChunk, 100)
	startResultCh := make(chan error, 1)

	log.Printf("[Gemini] 🌊 Streaming with model: %s...", g.model)

	go func() {
		defer close(chunkCh)

		iter := g.client.Models.GenerateContentStream(ctx, g.model, apiMessages, g.generateConfig(systemInstruction, tools))

		started := false
		var lastUsage *llm.LLMUsage

		// If debug mode is enabled, open file once for the entire stream
		var debugFile *os.File
		if g.debugEnabled {
			debugID, _ := ctx.Value(llm.DebugDirContextKey).(string)
			if debugID == "" {
				debugID = time.Now().Format("20060102_150405")
			}
			debugDir := filepath.Join("debug", "chunks", "gemini")
			_ = os.MkdirAll(debugDir, 0755)
			debugFilePath := filepath.Join(debugDir, fmt.Sprintf("%s.log", debugID))
			log.Printf("[Gemini] 🛠️ Debug mode ON. Chunks will be appended to: %s", debugFilePath)
			if f, err := os.OpenFile(debugFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
				debugFile = f
				defer debugFile.Close()
			}
		}

		for resp, err := range iter {
			// Save raw packet
			if debugFile != nil && resp != nil {
				jsonData, _ := json.Marshal(resp)
				debugFile.Write(jsonData)
				debugFile.WriteString("\n")
			}
			if err != nil {
				// Try to process last resp if available
				// Google GenAI SDK iterator might return some data along with the error
				if resp == nil {
					log.Printf("Gemini Stream Error: %v", err)
					if !started {
						startResultCh <- err
					} else {
						// Stream interrupted, notify user
						chunkCh <- llm.NewErrorChunk(fmt.Sprintf("Stream interrupted: %v", err), err, true)
					}
					break
				}
				// If err != nil but resp != nil, continue processing this resp, then handle error in next iteration
				log.Printf("Gemini Stream Error (with data): %v", err)
			}

			if !started {
				started = true
				startResultCh <- nil // First chunk successful
			}

			// Capture Usage Metadata (usually in the last chunk)
			if resp.UsageMetadata != nil {
				lastUsage = usageFromMetadata(resp.UsageMetadata)
			}

			for _, candidate := range resp.Candidates {
				if candidate.FinishReason != "" && lastUsage != nil {
					lastUsage.StopReason = string(candidate.FinishReason)
					if candidate.FinishReason == "FINISH_REASON_MAX_TOKENS" {
						chunkCh <- llm.NewErrorChunk("Response truncated due to max tokens limit. You might want to adjust your prompt or settings.", nil, false)
					}
				}

				if candidate.Content != nil {
					var blocks []llm.ContentBlock
					var toolCalls []llm.ToolCall

					for _, part := range candidate.Content.Parts {
						if part.Text != "" {
							if part.Thought {
								// Thinking content
								blocks = append(blocks, llm.NewThinkingBlock(part.Text))
							} else {
								// Normal response
								blocks = append(blocks, llm.NewTextBlock(part.Text))
							}
						}

						if part.FunctionCall != nil {
							// Tool call
							argsB, _ := json.Marshal(part.FunctionCall.Args)
							toolCalls = append(toolCalls, llm.ToolCall{
								ID:   part.FunctionCall.ID,
								Name: part.FunctionCall.Name,
								Function: llm.FunctionCall{
									Name:      part.FunctionCall.Name,
									Arguments: string(argsB),
								},
								// Save original FunctionCall for reconstruction (includes thought_signature, etc.)
								Meta: map[string]any{
									"gemini_function_call": part.FunctionCall,
								},
							})
							log.Printf("[Gemini] 🛠️ Tool Call: %s(%s)", part.FunctionCall.Name, string(argsB))
						}
					}

					if len(blocks) > 0 || len(toolCalls) > 0 {
						chunkCh <- llm.StreamChunk{
							ContentBlocks: blocks,
							ToolCalls:     toolCalls,
						}
					}
				}
			}
		}

		// Send final chunk (with usage stats)
		if lastUsage != nil {
			chunkCh <- llm.NewFinalChunk(lastUsage.StopReason, lastUsage)
			llm.LogUsage(g.model, lastUsage)
		}
	}()

	// Wait for initialization result (first chunk or immediate error)
	select {
	case err := <-startResultCh:
		if err != nil {
			return nil, err
		}
		return chunkCh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// convertMessages converts message list to GenAI format
func (g *GeminiClient) convertMessages(messages []llm.Message) ([]*genai.Content, *genai.Content) {
	var genaiContents []*genai.Content
	var systemInstruction *genai.Content

	for _, msg := range messages {
		if msg.Role == "system" {
			// System role as SystemInstruction
			var parts []*genai.Part
			for _, block := range msg.Content {
				if block.Type == llm.BlockTypeText && block.Text != "" {
					parts = append(parts, &genai.Part{Text: block.Text})
				}
			}
			if len(parts) > 0 {
				systemInstruction = &genai.Content{Parts: parts}
			}
			continue
		}

		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}

		if msg.Role == "tool" {
			// Tool results are part of user role in Gemini
			genaiContents = append(genaiContents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{
					{
						FunctionResponse: &genai.FunctionResponse{
							Name:     msg.ToolName,
							Response: map[string]any{"result": msg.GetTextContent()},
						},
					},
				},
			})
			continue
		}

		var parts []*genai.Part
		// Check for previous ToolCalls (Gemini requires echoing them before response)
		if len(msg.ToolCalls) > 0 {
			for _, tc := range msg.ToolCalls {
				// Use original FunctionCall if available (includes thought_signature)
				if tc.Meta != nil {
					if originalFC, ok := tc.Meta["gemini_function_call"].(*genai.FunctionCall); ok {
						parts = append(parts, &genai.Part{
							FunctionCall: originalFC,
						})
						continue
					}
				}

				// Rebuild manually if original data is missing (may miss thought_signature)
				var args map[string]any
				json.Unmarshal([]byte(tc.Function.Arguments), &args)
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						Name: tc.Function.Name,
						Args: args,
					},
				})
			}
		}

		for _, block := range msg.Content {
			switch block.Type {
			case llm.BlockTypeText:
				if block.Text == "" {
					continue
				}
				parts = append(parts, &genai.Part{Text: block.Text})

			case llm.BlockTypeThinking:
				if block.Text == "" {
					continue
				}
				// Mark reasoning content as Thought when saving
				parts = append(parts, &genai.Part{
					Text:    block.Text,
					Thought: true,
				})

			case llm.BlockTypeImage:
				if block.Source != nil {
					if data, err := block.Source.LoadImageData(); err == nil && len(data) > 0 {
						parts = append(parts, &genai.Part{
							InlineData: &genai.Blob{
								MIMEType: block.Source.MediaType,
								Data:     data,
							},
						})
					}
				}
			}
		}

		if len(parts) > 0 {
			genaiContents = append(genaiContents, &genai.Content{
				Role:  role,
				Parts: parts,
			})
		}
	}

	return genaiContents, systemInstruction
}

// IsTransientError implements the llm.LLMClient interface
func (g *GeminiClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()

	// 1. Google API common 503 Service Unavailable / Overloaded
	if strings.Contains(errMsg, "503") || strings.Contains(strings.ToLower(errMsg), "overloaded") {
		return true
	}

	// 2. 429 Too Many Requests (Rate Limit)
	if strings.Contains(errMsg, "429") || strings.Contains(strings.ToLower(errMsg), "resource exhausted") {
		return true
	}

	// 3. 500 Internal Error (Occasional Google Gemini crashes)
	if strings.Contains(errMsg, "500") || strings.Contains(strings.ToLower(errMsg), "internal error") {
		return true
	}

	return false
}
