package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"refchain/native/referral/payout"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "referrald.yaml", `
environment: staging
listen: 127.0.0.1:9000
data_dir: /var/lib/refchain
shutdown_timeout: 3s
logging:
  file: /var/log/referrald.log
admin:
  jwt_secret: `+testSecret+`
rate_limit:
  trust_proxy_headers: true
audit:
  driver: SQLite
  dsn: file:audit.db
distribution:
  max_hops: 12
genesis:
  authority: "0x00000000000000000000000000000000000000ad"
  registrars: ["0x00000000000000000000000000000000000000be"]
  reward_signers: ["0x00000000000000000000000000000000000000cf"]
  preset: moderate
  original_share_bps: 9000
  treasury: "0x0000000000000000000000000000000000007ea5"
  funding:
    - asset: ref
      amount: "1000000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "referrald", cfg.Service)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	require.Equal(t, 3*time.Second, cfg.ShutdownTimeout.Duration)
	require.Equal(t, 10*time.Second, cfg.ReadTimeout.Duration)
	require.Equal(t, 100, cfg.Logging.MaxSizeMB)
	require.Equal(t, "sqlite", cfg.Audit.Driver)
	require.Equal(t, "/metrics", cfg.Telemetry.MetricsPath)
	require.True(t, cfg.RateLimit.TrustProxyHeaders)
	require.Equal(t, 40, cfg.RateLimit.Burst)

	genesis, err := cfg.Genesis.Resolve()
	require.NoError(t, err)
	require.Len(t, genesis.Registrars, 1)
	require.Len(t, genesis.RewardSigners, 1)
	require.Equal(t, uint32(9000), genesis.Payout.OriginalShareBps)
	require.Equal(t, uint64(7000), genesis.Payout.Factor.Uint64())
	require.Len(t, genesis.Funding, 1)
	require.Equal(t, "REF", genesis.Funding[0].Asset)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "referrald.toml", `
listen = ":7000"
write_timeout = "20s"

[admin]
jwt_secret = "`+testSecret+`"

[genesis]
authority = "0x00000000000000000000000000000000000000ad"

[genesis.decay]
kind = "fixed"
factor = "2.5"
min_reward = "0.5"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 20*time.Second, cfg.WriteTimeout.Duration)

	genesis, err := cfg.Genesis.Resolve()
	require.NoError(t, err)
	require.Equal(t, payout.DecayFixed, genesis.Payout.Kind)
	require.Equal(t, "2500000000000000000", genesis.Payout.Factor.Dec())
	require.Equal(t, "500000000000000000", genesis.Payout.MinReward.Dec())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeFile(t, "bad.yaml", "listen: \":1\"\nbogus: true\n"))
	require.Error(t, err)
	_, err = Load(writeFile(t, "bad.toml", "bogus = true\n"))
	require.Error(t, err)
}

func TestAdminSecretIndirection(t *testing.T) {
	secretPath := writeFile(t, "jwt.secret", testSecret+"\n")
	cfg := Config{Admin: AdminConfig{JWTSecretFile: secretPath}}
	require.NoError(t, cfg.Finalise())
	require.Equal(t, testSecret, cfg.Admin.JWTSecret)

	t.Setenv("REFCHAIN_TEST_JWT", testSecret)
	cfg = Config{Admin: AdminConfig{JWTSecretEnv: "REFCHAIN_TEST_JWT"}}
	require.NoError(t, cfg.Finalise())
	require.Equal(t, testSecret, cfg.Admin.JWTSecret)

	cfg = Config{Admin: AdminConfig{JWTSecretEnv: "REFCHAIN_TEST_MISSING"}}
	require.Error(t, cfg.Finalise())

	cfg = Config{Admin: AdminConfig{JWTSecret: "short"}}
	err := cfg.Finalise()
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "jwt secret"))
}

func TestValidateRejectsBadSections(t *testing.T) {
	cases := map[string]Config{
		"audit driver": {Audit: AuditConfig{Driver: "mysql", DSN: "x"}},
		"audit dsn":    {Audit: AuditConfig{Driver: "postgres"}},
		"max hops":     {Distribution: DistributionConfig{MaxHops: -1}},
		"no authority": {Genesis: GenesisConfig{Registrars: []string{"0x00000000000000000000000000000000000000be"}}},
		"bad preset":   {Genesis: GenesisConfig{Authority: "0x00000000000000000000000000000000000000ad", Preset: "viral"}},
		"bad share": {Genesis: GenesisConfig{
			Authority:        "0x00000000000000000000000000000000000000ad",
			OriginalShareBps: func() *uint32 { v := uint32(10_001); return &v }(),
		}},
		"funding without treasury": {Genesis: GenesisConfig{
			Authority: "0x00000000000000000000000000000000000000ad",
			Funding:   []FundingConfig{{Asset: "REF", Amount: "1"}},
		}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			cfg.Admin.JWTSecret = testSecret
			require.Error(t, cfg.Finalise())
		})
	}
}
