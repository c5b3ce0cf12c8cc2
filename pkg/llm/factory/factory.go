package factory

import (
	"fmt"

	"research-chat-be/pkg/llm"
	"research-chat-be/pkg/llm/huggingface"
	"research-chat-be/pkg/llm/ollama"
)

// NewLLMProvider picks the chat backend by name
func NewLLMProvider(providerType, modelName, baseURL, apiKey string) (llm.LLMProvider, error) {
	switch providerType {
	case "ollama":
		if baseURL == "" {
			baseURL = "http://localhost:11434" // Default
		}
		return ollama.NewOllamaProvider(baseURL, modelName), nil
	case "huggingface", "openai":
		return huggingface.NewHuggingFaceProvider(apiKey, baseURL, modelName), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", providerType)
	}
}
