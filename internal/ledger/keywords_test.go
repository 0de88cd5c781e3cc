package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-market/internal/domain"
	"agent-market/internal/events"
)

func TestUpdateKeywords_NormalizesAndCaps(t *testing.T) {
	h := newHarness(t)
	h.stake(provA, domain.RoleProvider, 100)

	got, err := h.l.UpdateKeywords(h.ctx, provA, []string{"AI", " gpt ", "OCR", "ai"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ai", "gpt", "ocr"}, got)

	eleven := []string{"ai", "gpt", "ocr", "k4", "k5", "k6", "k7", "k8", "k9", "k10", "k11"}
	_, err = h.l.UpdateKeywords(h.ctx, provA, eleven)
	assert.ErrorIs(t, err, ErrTooManyKeywords)
	assert.Equal(t, []string{"ai", "gpt", "ocr"}, h.l.KeywordsOf(provA))

	_, err = h.l.UpdateKeywords(h.ctx, provA, []string{"ok", "   "})
	assert.ErrorIs(t, err, ErrInvalidKeyword)
	assert.Equal(t, []string{"ai", "gpt", "ocr"}, h.l.KeywordsOf(provA))
}

func TestUpdateKeywords_DiffAdjustsWeights(t *testing.T) {
	h := newHarness(t)
	h.stake(provA, domain.RoleProvider, 300)
	h.stake(provB, domain.RoleProvider, 100)

	_, err := h.l.UpdateKeywords(h.ctx, provA, []string{"ocr", "pdf"})
	require.NoError(t, err)
	_, err = h.l.UpdateKeywords(h.ctx, provB, []string{"ocr", "tts"})
	require.NoError(t, err)

	weights := func() map[string]int64 {
		out := make(map[string]int64)
		for _, s := range h.l.ListTopKeywords(-1) {
			out[s.Keyword] = s.Weight.Int64()
		}
		return out
	}
	assert.Equal(t, map[string]int64{"ocr": 400, "pdf": 300, "tts": 100}, weights())

	_, err = h.l.UpdateKeywords(h.ctx, provA, []string{"pdf", "vision"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"ocr": 100, "pdf": 300, "tts": 100, "vision": 300}, weights())

	_, err = h.l.UpdateKeywords(h.ctx, provA, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"ocr": 100, "tts": 100}, weights())
	assert.Equal(t, 2, h.l.Status().KeywordEntries)
}

func TestUpdateKeywords_EmitsEvent(t *testing.T) {
	h := newHarness(t)
	h.stake(provA, domain.RoleProvider, 100)

	_, err := h.l.UpdateKeywords(h.ctx, provA, []string{"OCR"})
	require.NoError(t, err)

	evs := h.rec.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindAgentKeywordsUpdated, evs[0].Kind)
	assert.Equal(t, provA, evs[0].Provider)
	assert.JSONEq(t, `{"provider":"provider-a","keywords":["ocr"]}`, string(evs[0].Payload))
}

func TestListTopKeywords_OrderAndLimit(t *testing.T) {
	h := newHarness(t)
	h.stake(provA, domain.RoleProvider, 100)
	h.stake(provB, domain.RoleProvider, 100)
	_, err := h.l.UpdateKeywords(h.ctx, provA, []string{"zeta", "alpha", "beta"})
	require.NoError(t, err)
	_, err = h.l.UpdateKeywords(h.ctx, provB, []string{"beta"})
	require.NoError(t, err)

	top := h.l.ListTopKeywords(2)
	require.Len(t, top, 2)
	assert.Equal(t, "beta", top[0].Keyword)
	assert.Equal(t, "alpha", top[1].Keyword, "ties break by keyword")

	assert.Empty(t, h.l.ListTopKeywords(0))
	assert.Len(t, h.l.ListTopKeywords(-1), 3)
}

func TestListAgentsByKeyword(t *testing.T) {
	h := newHarness(t)
	h.stake(provC, domain.RoleProvider, 200)
	h.stake(provB, domain.RoleProvider, 100)
	h.stake(provA, domain.RoleProvider, 100)
	for _, p := range []domain.Address{provA, provB, provC} {
		_, err := h.l.UpdateKeywords(h.ctx, p, []string{"ocr"})
		require.NoError(t, err)
	}

	got := h.l.ListAgentsByKeyword("  OCR ", 0, 10)
	require.Len(t, got, 3)
	assert.Equal(t, provC, got[0].Provider)
	assert.Equal(t, provA, got[1].Provider)
	assert.Equal(t, provB, got[2].Provider)

	page := h.l.ListAgentsByKeyword("ocr", 1, 1)
	require.Len(t, page, 1)
	assert.Equal(t, provA, page[0].Provider)

	assert.Empty(t, h.l.ListAgentsByKeyword("ocr", 5, 10))
	assert.Empty(t, h.l.ListAgentsByKeyword("missing", 0, 10))
}

func TestRebuildKeywordIndex_RefreshesWeights(t *testing.T) {
	h := newHarness(t)
	h.stake(provA, domain.RoleProvider, 500)
	_, err := h.l.UpdateKeywords(h.ctx, provA, []string{"ocr"})
	require.NoError(t, err)

	h.push(provA, 5, 4)
	top := h.l.ListTopKeywords(-1)
	intEq(t, 500, top[0].Weight, "snapshots do not touch the index")
	intEq(t, 400, h.l.GetScore(provA).Score)

	h.rec.Reset()
	require.NoError(t, h.l.RebuildKeywordIndex(h.ctx))
	top = h.l.ListTopKeywords(-1)
	intEq(t, 400, top[0].Weight)
	assert.Equal(t, []string{events.KindKeywordIndexRebuilt}, h.rec.Kinds())
}

func TestRebuildKeywordIndex_DropsUnqualified(t *testing.T) {
	h := newHarness(t)
	h.stake(provA, domain.RoleProvider, 100)
	h.stake(provB, domain.RoleProvider, 100)
	_, err := h.l.UpdateKeywords(h.ctx, provA, []string{"ocr"})
	require.NoError(t, err)
	_, err = h.l.UpdateKeywords(h.ctx, provB, []string{"ocr"})
	require.NoError(t, err)

	// Simulate drift the incremental path never produces.
	h.l.mu.Lock()
	h.l.accounts[accountKey{domain.RoleProvider, provB}].Qualified = false
	h.l.mu.Unlock()

	require.NoError(t, h.l.RebuildKeywordIndex(h.ctx))
	got := h.l.ListAgentsByKeyword("ocr", 0, 10)
	require.Len(t, got, 1)
	assert.Equal(t, provA, got[0].Provider)
}
