package events

import (
	"encoding/json"
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-market/internal/domain"
	"agent-market/internal/idhash"
)

func TestBuild_AssignsIdentityAndSubjects(t *testing.T) {
	batch, err := Build(7, 1_700_000_000, []Payload{
		Claimed{Provider: "prov", User: "user", Category: "ocr", Amount: math.NewInt(30), Reason: "job-1"},
		AgentWithdrawableUpdated{Provider: "prov", NewBalance: math.NewInt(30)},
		KeywordIndexRebuilt{},
	})
	require.NoError(t, err)
	require.Len(t, batch, 3)

	for i, e := range batch {
		assert.Equal(t, uint64(7), e.Seq)
		assert.Equal(t, uint32(i), e.Index)
		assert.Equal(t, int64(1_700_000_000), e.Timestamp)
		assert.Equal(t, idhash.ComputeEventID(7, uint32(i), e.Kind), e.ID)
	}

	assert.Equal(t, KindClaimed, batch[0].Kind)
	assert.Equal(t, domain.Address("prov"), batch[0].Provider)
	assert.Equal(t, domain.Address("user"), batch[0].User)

	assert.Equal(t, domain.Address("prov"), batch[1].Provider)
	assert.Empty(t, batch[1].User)

	assert.Empty(t, batch[2].Provider)
	assert.JSONEq(t, `{}`, string(batch[2].Payload))
}

func TestBuild_PayloadFieldOrder(t *testing.T) {
	batch, err := Build(1, 10, []Payload{
		BalanceRefunded{User: "u", Provider: "p", Category: "c", Amount: math.NewInt(50), Fee: math.NewInt(1)},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`{"user":"u","provider":"p","category":"c","amount":"50","fee":"1"}`,
		string(batch[0].Payload))
}

func TestBuild_PerformancePayloadRoundTrip(t *testing.T) {
	in := AgentPerformanceUpdated{
		Provider:  "p",
		Completed: 10,
		Succeeded: 8,
		Volume:    math.NewInt(1_000_000),
		Timestamp: 99,
	}
	batch, err := Build(3, 99, []Payload{in})
	require.NoError(t, err)

	var out AgentPerformanceUpdated
	require.NoError(t, json.Unmarshal(batch[0].Payload, &out))
	assert.Equal(t, in.Provider, out.Provider)
	assert.Equal(t, in.Completed, out.Completed)
	assert.True(t, in.Volume.Equal(out.Volume))
}

func TestBuild_Empty(t *testing.T) {
	batch, err := Build(1, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, batch)
}
