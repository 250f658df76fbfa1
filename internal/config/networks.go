package config

import (
	_ "embed"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/xerrors"

	"raffle/internal/models"
)

//go:embed networks.toml
var defaultNetworks string

// ErrUnknownNetwork is returned when a network name is not in the table.
var ErrUnknownNetwork = xerrors.New("unknown network")

// Network describes one deployment target.
type Network struct {
	Name             string `toml:"name"`
	ChainID          uint64 `toml:"chainId"`
	Development      bool   `toml:"development"`
	VRFCoordinator   string `toml:"vrfCoordinator"`
	EntranceFee      string `toml:"entranceFee"`
	KeyHash          string `toml:"keyHash"`
	SubscriptionID   uint64 `toml:"subscriptionId"`
	CallbackGasLimit uint32 `toml:"callbackGasLimit"`
	Interval         string `toml:"interval"`
}

// Networks is the table of known deployment targets.
type Networks struct {
	Network []Network `toml:"network"`
}

// LoadNetworks decodes the table at path, or the built-in table when path is empty.
func LoadNetworks(path string) (*Networks, error) {
	data := defaultNetworks
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, xerrors.Errorf("read networks %s: %w", path, err)
		}
		data = string(raw)
	}
	return ParseNetworks(data)
}

// ParseNetworks decodes a TOML network table and checks every entry.
func ParseNetworks(data string) (*Networks, error) {
	nets := &Networks{}
	if _, err := toml.Decode(data, nets); err != nil {
		return nil, xerrors.Errorf("decode networks: %w", err)
	}
	seen := make(map[string]bool)
	for _, n := range nets.Network {
		if seen[n.Name] {
			return nil, xerrors.Errorf("network %q defined twice", n.Name)
		}
		seen[n.Name] = true
		if _, err := n.Params(); err != nil {
			return nil, err
		}
	}
	return nets, nil
}

// Lookup finds a network by name.
func (n *Networks) Lookup(name string) (Network, error) {
	for _, net := range n.Network {
		if net.Name == name {
			return net, nil
		}
	}
	return Network{}, xerrors.Errorf("%q: %w", name, ErrUnknownNetwork)
}

// Params converts the entry into raffle parameters. Address, Coordinator and,
// on development networks, SubscriptionID are left for the deployer to fill in.
func (n Network) Params() (models.Params, error) {
	fee, err := models.ParseEther(n.EntranceFee)
	if err != nil {
		return models.Params{}, xerrors.Errorf("network %s: %w", n.Name, err)
	}
	interval, err := time.ParseDuration(n.Interval)
	if err != nil {
		return models.Params{}, xerrors.Errorf("network %s interval: %w", n.Name, err)
	}
	if !common.IsHexAddress(n.VRFCoordinator) && n.VRFCoordinator != "" {
		return models.Params{}, xerrors.Errorf("network %s: bad coordinator address %q", n.Name, n.VRFCoordinator)
	}
	return models.Params{
		Coordinator:          common.HexToAddress(n.VRFCoordinator),
		EntranceFee:          fee,
		Interval:             interval,
		KeyHash:              common.HexToHash(n.KeyHash),
		SubscriptionID:       n.SubscriptionID,
		CallbackGasLimit:     n.CallbackGasLimit,
		RequestConfirmations: models.RequestConfirmations,
		NumWords:             models.NumWords,
	}, nil
}
