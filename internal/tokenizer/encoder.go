// Package tokenizer estimates prompt and completion token usage for Chat
// Completions payloads using BPE encoders selected per model.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Supported encodings
const (
	O200kBase  = "o200k_base"
	Cl100kBase = "cl100k_base"
	P50kBase   = "p50k_base"
	P50kEdit   = "p50k_edit"
	R50kBase   = "r50k_base"

	DefaultEncoding = O200kBase
)

var supportedEncodings = map[string]bool{
	O200kBase:  true,
	Cl100kBase: true,
	P50kBase:   true,
	P50kEdit:   true,
	R50kBase:   true,
}

// Encoder counts the tokens of a piece of text.
type Encoder interface {
	Count(text string) int
}

// Loader builds the encoder for a supported encoding name.
type Loader func(encoding string) (Encoder, error)

type tiktokenEncoder struct {
	tke *tiktoken.Tiktoken
}

func (e tiktokenEncoder) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(e.tke.Encode(text, nil, nil))
}

// TiktokenLoader loads encoders from tiktoken-go.
func TiktokenLoader(encoding string) (Encoder, error) {
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("get tiktoken encoding %s: %w", encoding, err)
	}
	return tiktokenEncoder{tke: tke}, nil
}

// Cache loads each encoding at most once. Unknown encoding names resolve
// to the default encoding.
type Cache struct {
	mu       sync.Mutex
	load     Loader
	encoders map[string]Encoder
}

func NewCache(load Loader) *Cache {
	if load == nil {
		load = TiktokenLoader
	}
	return &Cache{
		load:     load,
		encoders: make(map[string]Encoder),
	}
}

// Get returns the encoder for name, loading it on first use.
func (c *Cache) Get(name string) (Encoder, error) {
	if !supportedEncodings[name] {
		name = DefaultEncoding
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encoders[name]; ok {
		return enc, nil
	}
	enc, err := c.load(name)
	if err != nil {
		return nil, err
	}
	c.encoders[name] = enc
	return enc, nil
}
