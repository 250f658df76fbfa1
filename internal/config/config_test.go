package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "hardhat", cfg.Network)
	assert.Equal(t, StoreBolt, cfg.Store.Backend)
	assert.Equal(t, time.Second, cfg.Automation.Poll)
	assert.Equal(t, 10*time.Minute, cfg.Automation.StaleAfter)
	assert.True(t, cfg.Oracle.AutoFulfill)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RAFFLE_SERVER_PORT", "9000")
	t.Setenv("RAFFLE_STORE_BACKEND", "memory")
	t.Setenv("RAFFLE_AUTOMATION_POLL", "250ms")
	t.Setenv("RAFFLE_TELEGRAM_CHATID", "42")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Automation.Poll)
	assert.Equal(t, int64(42), cfg.Telegram.ChatID)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raffle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
network: sepolia
store:
  backend: mongo
mongodb:
  database: raffle_test
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sepolia", cfg.Network)
	assert.Equal(t, StoreMongo, cfg.Store.Backend)
	assert.Equal(t, "raffle_test", cfg.MongoDB.Database)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("RAFFLE_STORE_BACKEND", "postgres")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadNetworks_Default(t *testing.T) {
	nets, err := LoadNetworks("")
	require.NoError(t, err)

	hardhat, err := nets.Lookup("hardhat")
	require.NoError(t, err)
	assert.True(t, hardhat.Development)
	assert.Equal(t, uint64(31337), hardhat.ChainID)

	params, err := hardhat.Params()
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000", params.EntranceFee.String())
	assert.Equal(t, 30*time.Second, params.Interval)
	assert.Equal(t, uint32(500000), params.CallbackGasLimit)
	assert.Equal(t, uint32(1), params.NumWords)
	assert.Equal(t, uint16(3), params.RequestConfirmations)

	sepolia, err := nets.Lookup("sepolia")
	require.NoError(t, err)
	assert.False(t, sepolia.Development)
	params, err = sepolia.Params()
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x8103B0A8A00be2DDC778e6e7eaa21791Cd364625"), params.Coordinator)

	_, err = nets.Lookup("mainnet")
	assert.ErrorIs(t, err, ErrUnknownNetwork)
}

func TestParseNetworks_Rejects(t *testing.T) {
	tests := map[string]string{
		"duplicate": `
[[network]]
name = "a"
entranceFee = "1"
interval = "1s"
[[network]]
name = "a"
entranceFee = "1"
interval = "1s"
`,
		"bad fee": `
[[network]]
name = "a"
entranceFee = "lots"
interval = "1s"
`,
		"bad interval": `
[[network]]
name = "a"
entranceFee = "1"
interval = "often"
`,
		"bad coordinator": `
[[network]]
name = "a"
entranceFee = "1"
interval = "1s"
vrfCoordinator = "0x12"
`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseNetworks(data)
			assert.Error(t, err)
		})
	}
}
