package utils

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  one\ttwo\nthree  ")
	if len(words) != 3 {
		t.Fatalf("expected 3 words, got %v", words)
	}
	if words[0] != "one" || words[2] != "three" {
		t.Errorf("got %v", words)
	}
	if SplitWords("   \n\t ") != nil {
		t.Error("whitespace-only text should return nil")
	}
}

func TestCountTokens(t *testing.T) {
	if CountTokens("Python is great.") != 3 {
		t.Errorf("got %d, want 3", CountTokens("Python is great."))
	}
	if CountTokens("") != 0 {
		t.Errorf("empty text should count 0 tokens")
	}
}

func TestHashString(t *testing.T) {
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	if HashString("abc") < 0 {
		t.Error("hash should be non-negative")
	}
}
