package telegram

import (
	"strings"
	"testing"

	"github.com/mtzanidakis/conductor/internal/config"
)

func TestChunkMessage(t *testing.T) {
	// Short message
	chunks := chunkMessage("hello", maxMessageLen)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}

	// Exact limit
	chunks = chunkMessage(strings.Repeat("a", 4096), maxMessageLen)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk for exact limit, got %d", len(chunks))
	}

	// Over limit
	chunks = chunkMessage(strings.Repeat("a", 8192), maxMessageLen)
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks, got %d", len(chunks))
	}

	// Split at newline
	msg := []byte(strings.Repeat("a", 5000))
	msg[3000] = '\n'
	chunks = chunkMessage(string(msg), maxMessageLen)
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks with newline split, got %d", len(chunks))
	}
	if len(chunks[0]) != 3001 { // Up to and including the newline
		t.Errorf("expected first chunk length 3001, got %d", len(chunks[0]))
	}

	// Newline too early to be worth splitting at
	msg = []byte(strings.Repeat("a", 5000))
	msg[100] = '\n'
	chunks = chunkMessage(string(msg), maxMessageLen)
	if len(chunks[0]) != maxMessageLen {
		t.Errorf("expected first chunk of %d bytes, got %d", maxMessageLen, len(chunks[0]))
	}
}

func TestNewNotifierRequiresChats(t *testing.T) {
	_, err := NewNotifier(config.TelegramConfig{Token: "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"})
	if err == nil {
		t.Fatal("expected error without chat ids")
	}
}
