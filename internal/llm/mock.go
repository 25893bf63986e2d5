package llm

import "context"

// MockClient permite tests y modo offline sin llamar a un LLM real.
type MockClient struct {
	Response string
	Err      error
	Prompts  []string
}

func (m *MockClient) Generate(ctx context.Context, prompt string) (string, error) {
	m.Prompts = append(m.Prompts, prompt)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.Response, m.Err
}
