package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Per-message accounting as used by chat completion endpoints: each message
// carries a small framing overhead, and each request a constant tail.
const (
	tokensPerMessage = 3
	tokensPerName    = 1
	tokensPerRequest = 3
)

const fallbackEncoding = "cl100k_base"

// Message is the minimal shape the estimator needs. Higher layers convert
// their own message types down to this.
type Message struct {
	Role    string
	Content string
	Name    string
}

// Estimator counts tokens with the model's own encoding, falling back to
// cl100k_base for models tiktoken does not know. Encoders are cached per
// model since construction is expensive.
type Estimator struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

func NewEstimator() *Estimator {
	return &Estimator{encoders: make(map[string]*tiktoken.Tiktoken)}
}

func (e *Estimator) encoderFor(modelID string) *tiktoken.Tiktoken {
	e.mu.Lock()
	defer e.mu.Unlock()

	if enc, ok := e.encoders[modelID]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(modelID)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			// cl100k_base ships with the library; reaching this means the
			// encoding registry itself is broken.
			panic("tokens: fallback encoding unavailable: " + err.Error())
		}
	}
	e.encoders[modelID] = enc
	return enc
}

// Count returns the token count of a plain text string under modelID's
// encoding.
func (e *Estimator) Count(text, modelID string) int {
	if text == "" {
		return 0
	}
	return len(e.encoderFor(modelID).Encode(text, nil, nil))
}

// CountMessages returns the token count of a chat message list, including
// per-message and per-request framing overhead.
func (e *Estimator) CountMessages(messages []Message, modelID string) int {
	if len(messages) == 0 {
		return 0
	}
	enc := e.encoderFor(modelID)

	total := 0
	for _, m := range messages {
		total += tokensPerMessage
		total += len(enc.Encode(m.Role, nil, nil))
		total += len(enc.Encode(m.Content, nil, nil))
		if m.Name != "" {
			total += len(enc.Encode(m.Name, nil, nil)) + tokensPerName
		}
	}
	return total + tokensPerRequest
}
