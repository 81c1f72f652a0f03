package embedding

import (
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, _ := tok.Tokenize("hello world", 10)
	if len(ids) != 10 {
		t.Errorf("len(ids)=%d", len(ids))
	}
	if ids[0] != 101 {
		t.Errorf("expected CLS 101, got %d", ids[0])
	}
	if attn[0] != 1 {
		t.Error("attention[0] should be 1")
	}
}

func TestSimpleTokenizer_TruncatesLongInput(t *testing.T) {
	tok := &SimpleTokenizer{}
	text := ""
	for i := 0; i < 50; i++ {
		text += "word "
	}
	ids, _, _ := tok.Tokenize(text, 8)
	if len(ids) != 8 {
		t.Errorf("len(ids)=%d", len(ids))
	}
	if ids[7] != 102 {
		t.Errorf("expected SEP 102 at final position, got %d", ids[7])
	}
}
