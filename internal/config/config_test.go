package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-market/internal/asset"
	"agent-market/internal/domain"
	"agent-market/internal/ranking"
)

// systemProgram decodes to 32 zero bytes.
const systemProgram = "11111111111111111111111111111111"

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	RegisterFlags(cmd)
	require.NoError(t, cmd.ParseFlags(append([]string{"--env-file="}, args...)))
	return Load(cmd)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t, "--use-memory")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, time.Hour, cfg.RankingTTL)
	assert.Equal(t, "@daily", cfg.KeywordSchedule)
	assert.Empty(t, cfg.Reporters)

	p, err := cfg.Params()
	require.NoError(t, err)
	assert.True(t, p.ProviderMinStake.Equal(asset.MustParseUnits("100")))
	assert.True(t, p.RefundFee.Equal(asset.MustParseUnits("0.01")))
	assert.Equal(t, ranking.PolicyRebuildOnRead, p.StalePolicy)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "agent-market.yaml")
	require.NoError(t, os.WriteFile(file, []byte("use-memory: true\nranking-ttl: 30m\nrefund-fee: \"0.5\"\nmin-deposit: \"2\"\n"), 0o600))

	t.Setenv("AGENTMARKET_RANKING_TTL", "45m")
	t.Setenv("AGENTMARKET_PROVIDER_MIN_STAKE", "250")
	t.Setenv("AGENTMARKET_REPORTERS", systemProgram)

	cfg, err := load(t, "--config", file, "--provider-min-stake", "300")
	require.NoError(t, err)

	assert.True(t, cfg.UseMemory, "from file")
	assert.Equal(t, "0.5", cfg.RefundFee, "from file")
	assert.Equal(t, 45*time.Minute, cfg.RankingTTL, "env beats file")
	assert.Equal(t, "300", cfg.ProviderMinStake, "flag beats env")
	assert.Equal(t, []string{systemProgram}, cfg.Reporters)

	p, err := cfg.Params()
	require.NoError(t, err)
	assert.Equal(t, []domain.Address{systemProgram}, p.Reporters)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"postgres required", nil},
		{"zero queue", []string{"--use-memory", "--event-queue-size", "0"}},
		{"fee above deposit", []string{"--use-memory", "--refund-fee", "2", "--min-deposit", "1"}},
		{"bad amount", []string{"--use-memory", "--buyer-min-stake", "ten"}},
		{"too precise", []string{"--use-memory", "--min-deposit", "0.0000001"}},
		{"bad policy", []string{"--use-memory", "--stale-policy", "never"}},
		{"bad reporter", []string{"--use-memory", "--reporters", "not-an-address"}},
		{"zero rate", []string{"--use-memory", "--rate-limit", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList([]string{"a, b", " ", "c"}))
	assert.Nil(t, splitList(nil))
}

func TestLoadEnvFile(t *testing.T) {
	const fresh = "AGENTMARKET_TEST_FRESH_VAR"
	t.Setenv("AGENTMARKET_TEST_SET_VAR", "kept")
	t.Cleanup(func() { os.Unsetenv(fresh) })

	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nexport " + fresh + "=\"from-file\"\nAGENTMARKET_TEST_SET_VAR=ignored\nmalformed\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv(fresh))
	assert.Equal(t, "kept", os.Getenv("AGENTMARKET_TEST_SET_VAR"))

	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}
