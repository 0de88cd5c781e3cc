package keyword

import (
	"errors"
	"fmt"
	"testing"

	"cosmossdk.io/math"
	"pgregory.net/rapid"

	"agent-market/internal/domain"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		" OCR ":      "ocr",
		"AI":         "ai",
		" gpt ":      "gpt",
		"\tVision\n": "vision",
		"already":    "already",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")
		once := Normalize(s)
		if twice := Normalize(once); twice != once {
			t.Fatalf("Normalize not idempotent: %q -> %q -> %q", s, once, twice)
		}
	})
}

func TestNormalizeSet_DedupPreservesOrder(t *testing.T) {
	got, err := NormalizeSet([]string{"AI", " gpt ", "OCR", "ai", "GPT"}, MaxPerAgent)
	if err != nil {
		t.Fatalf("NormalizeSet failed: %v", err)
	}
	want := []string{"ai", "gpt", "ocr"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNormalizeSet_TooMany(t *testing.T) {
	in := make([]string, 0, 11)
	for i := 0; i < 11; i++ {
		in = append(in, fmt.Sprintf("k%d", i))
	}
	_, err := NormalizeSet(in, MaxPerAgent)
	if !errors.Is(err, ErrTooManyKeywords) {
		t.Fatalf("expected ErrTooManyKeywords, got %v", err)
	}

	// Duplicates do not count toward the cap.
	in[10] = " K0 "
	if _, err := NormalizeSet(in, MaxPerAgent); err != nil {
		t.Fatalf("expected dedup to fit the cap, got %v", err)
	}
}

func TestNormalizeSet_Invalid(t *testing.T) {
	for _, bad := range []string{"", "   ", "this-keyword-is-definitely-longer-than-32-bytes"} {
		if _, err := NormalizeSet([]string{bad}, MaxPerAgent); !errors.Is(err, ErrInvalidKeyword) {
			t.Errorf("NormalizeSet(%q): expected ErrInvalidKeyword, got %v", bad, err)
		}
	}
}

func TestDiff(t *testing.T) {
	added, removed, kept := Diff([]string{"ai", "gpt", "ocr"}, []string{"ocr", "vision", "ai"})
	if fmt.Sprint(added) != "[vision]" {
		t.Errorf("added = %v", added)
	}
	if fmt.Sprint(removed) != "[gpt]" {
		t.Errorf("removed = %v", removed)
	}
	if fmt.Sprint(kept) != "[ocr ai]" {
		t.Errorf("kept = %v", kept)
	}
}

func TestTop_OrderAndLimit(t *testing.T) {
	mk := func(k string, weights ...int64) *domain.KeywordEntry {
		e := domain.NewKeywordEntry(k)
		for i, w := range weights {
			e.Set(domain.Address(fmt.Sprintf("p%d", i)), math.NewInt(w))
		}
		return e
	}
	entries := []*domain.KeywordEntry{
		mk("ocr", 100),
		mk("ai", 300, 100),
		mk("gpt", 400),
		mk("vision", 50),
	}

	top := Top(entries, 3)
	if len(top) != 3 {
		t.Fatalf("expected 3 stats, got %d", len(top))
	}
	// ai and gpt tie at 400, keyword ascending breaks the tie.
	if top[0].Keyword != "ai" || top[1].Keyword != "gpt" || top[2].Keyword != "ocr" {
		t.Errorf("unexpected order: %+v", top)
	}
	if top[0].Providers != 2 {
		t.Errorf("ai providers = %d, want 2", top[0].Providers)
	}
}
