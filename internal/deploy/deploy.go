package deploy

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/logger"
	"golang.org/x/xerrors"

	"raffle/internal/config"
	"raffle/internal/ledger"
	"raffle/internal/models"
	"raffle/internal/oracle"
	"raffle/internal/services"
)

var (
	// BaseFee is what the development coordinator charges per fulfillment (0.25 LINK).
	BaseFee = big.NewInt(250_000_000_000_000_000)
	// GasPriceLink is the development coordinator's LINK price per unit of gas.
	GasPriceLink = big.NewInt(1_000_000_000)
	// SubscriptionFund is the initial balance of the development subscription (30 LINK).
	SubscriptionFund = new(big.Int).Mul(big.NewInt(30), models.WeiPerEther)
)

// ErrLiveNetworkUnsupported is returned for non-development networks when no coordinator is supplied.
var ErrLiveNetworkUnsupported = xerrors.New("live network deployment needs an external coordinator")

// Options controls a deployment.
type Options struct {
	Deployer common.Address
	// Bank holds participant and raffle balances. A new one is created when nil.
	Bank    *ledger.Bank
	Emitter services.Emitter
	// Coordinator is required on live networks.
	Coordinator services.RandomnessCoordinator
	Clock       func() time.Time
	// FirstRound continues numbering from stored history; zero starts at 1.
	FirstRound uint64
}

// Deployment is a running raffle and everything wired around it.
type Deployment struct {
	Network config.Network
	Raffle  *services.RaffleService
	Address common.Address
	Bank    *ledger.Bank
	Escrow  *ledger.Escrow
	// Coordinator is the local coordinator; nil on live networks.
	Coordinator    *oracle.Coordinator
	SubscriptionID uint64
}

// Deploy stands up the raffle on network. Development networks get a local
// coordinator and a funded subscription with the raffle registered as consumer.
func Deploy(network config.Network, opts Options) (*Deployment, error) {
	params, err := network.Params()
	if err != nil {
		return nil, err
	}
	bank := opts.Bank
	if bank == nil {
		bank = ledger.NewBank()
	}
	d := &Deployment{Network: network, Bank: bank}

	var coordinator services.RandomnessCoordinator
	if network.Development {
		d.Coordinator = oracle.NewCoordinator(crypto.CreateAddress(opts.Deployer, 0), BaseFee, GasPriceLink)
		logger.Infof("deploy: local coordinator at %s", d.Coordinator.Address().Hex())

		d.SubscriptionID = d.Coordinator.CreateSubscription(opts.Deployer)
		if err := d.Coordinator.FundSubscription(d.SubscriptionID, SubscriptionFund); err != nil {
			return nil, xerrors.Errorf("fund subscription: %w", err)
		}
		params.Coordinator = d.Coordinator.Address()
		params.SubscriptionID = d.SubscriptionID
		coordinator = d.Coordinator
	} else {
		if opts.Coordinator == nil {
			return nil, xerrors.Errorf("network %s: %w", network.Name, ErrLiveNetworkUnsupported)
		}
		if network.VRFCoordinator == "" || network.SubscriptionID == 0 {
			return nil, xerrors.Errorf("network %s needs vrfCoordinator and subscriptionId", network.Name)
		}
		d.SubscriptionID = network.SubscriptionID
		coordinator = opts.Coordinator
	}

	d.Address = crypto.CreateAddress(opts.Deployer, 1)
	params.Address = d.Address
	d.Escrow = ledger.NewEscrow(bank, d.Address)

	svcOpts := []services.Option{services.WithRound(opts.FirstRound)}
	if opts.Clock != nil {
		svcOpts = append(svcOpts, services.WithClock(opts.Clock))
	}
	d.Raffle, err = services.NewRaffleService(params, coordinator, d.Escrow, opts.Emitter, svcOpts...)
	if err != nil {
		return nil, err
	}

	if d.Coordinator != nil {
		if err := d.Coordinator.AddConsumer(d.SubscriptionID, d.Address, d.Raffle); err != nil {
			return nil, xerrors.Errorf("register consumer: %w", err)
		}
	}
	logger.Infof("deploy: raffle at %s on %s (fee %s ETH, interval %s)",
		d.Address.Hex(), network.Name, models.FormatEther(params.EntranceFee), params.Interval)
	return d, nil
}
