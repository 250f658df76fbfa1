package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"golang.org/x/xerrors"
	"gopkg.in/urfave/cli.v1"

	"raffle/internal/automation"
	"raffle/internal/config"
	"raffle/internal/deploy"
	"raffle/internal/events"
	"raffle/internal/handlers"
	"raffle/internal/middleware"
	"raffle/internal/notify"
	"raffle/internal/oracle"
	"raffle/internal/store"
)

func main() {
	app := cli.NewApp()
	app.Name = "raffle"
	app.Usage = "provably fair raffle with verifiable randomness"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "path to a config file"},
	}
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "deploy the raffle and serve the HTTP API",
			Action: serve,
		},
		{
			Name:   "networks",
			Usage:  "list the networks the raffle can be deployed to",
			Action: listNetworks,
		},
		{
			Name:  "token",
			Usage: "issue a bearer token for the oracle callback",
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour, Usage: "token lifetime, 0 for no expiry"},
			},
			Action: issueToken,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	logger.Init("raffle", cfg.LogVerbosity > 0, false, io.Discard)
	logger.SetLevel(logger.Level(cfg.LogVerbosity))
	return cfg, nil
}

func serve(c *cli.Context) error {
	// 1. Load configuration and the network table
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	nets, err := config.LoadNetworks(cfg.NetworksFile)
	if err != nil {
		return err
	}
	network, err := nets.Lookup(cfg.Network)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(cfg.Deployer) {
		return xerrors.Errorf("deployer %q is not an address", cfg.Deployer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open round history and wire the event subscribers
	rounds, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rounds.Close(context.Background()); err != nil {
			logger.Errorf("close store: %v", err)
		}
	}()

	bus := events.NewBus(events.DefaultLogSize)
	bus.Subscribe(store.NewRecorder(rounds).Handle)
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return err
		}
		go tg.Run(ctx)
		bus.Subscribe(tg.Handle)
	}

	// 3. Deploy the raffle, continuing the round numbering of the stored history
	firstRound, err := store.NextRound(ctx, rounds)
	if err != nil {
		return xerrors.Errorf("read round history: %w", err)
	}
	d, err := deploy.Deploy(network, deploy.Options{
		Deployer:   common.HexToAddress(cfg.Deployer),
		Emitter:    bus,
		FirstRound: firstRound,
	})
	if err != nil {
		return err
	}

	// 4. Start the keeper and, on development networks, the local oracle node
	if cfg.Automation.Enabled {
		keeper := automation.NewKeeper(d.Raffle, cfg.Automation.Poll, cfg.Automation.StaleAfter)
		go keeper.Run(ctx)
	}
	var dev *handlers.DevTools
	if d.Coordinator != nil {
		dev = &handlers.DevTools{Bank: d.Bank, Coordinator: d.Coordinator}
		if cfg.Oracle.AutoFulfill {
			go oracle.NewNode(d.Coordinator, cfg.Oracle.BlockTime).Run(ctx)
		}
	}

	// 5. Set up the Gin router
	if cfg.LogVerbosity == 0 {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	handlers.NewHTTPHandler(d.Raffle, bus, rounds, dev).RegisterRoutes(r, cfg.Oracle.JWTSecret)

	// 6. Run the server until interrupted
	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: r}
	errc := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on http://localhost:%s (network %s, raffle %s)", cfg.Server.Port, network.Name, d.Address.Hex())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !xerrors.Is(err, http.ErrServerClosed) {
			return xerrors.Errorf("run server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return xerrors.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func openStore(cfg *config.Config) (store.RoundStore, error) {
	switch cfg.Store.Backend {
	case config.StoreBolt:
		return store.OpenBolt(cfg.Store.BoltPath)
	case config.StoreMongo:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return store.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Database)
	default:
		return store.NewMemoryStore(), nil
	}
}

func listNetworks(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	nets, err := config.LoadNetworks(cfg.NetworksFile)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCHAIN\tDEV\tFEE (ETH)\tINTERVAL\tCOORDINATOR")
	for _, n := range nets.Network {
		coordinator := n.VRFCoordinator
		if n.Development {
			coordinator = "local"
		}
		fmt.Fprintf(w, "%s\t%d\t%t\t%s\t%s\t%s\n", n.Name, n.ChainID, n.Development, n.EntranceFee, n.Interval, coordinator)
	}
	return w.Flush()
}

func issueToken(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	token, err := middleware.IssueOracleToken(cfg.Oracle.JWTSecret, c.Duration("ttl"), time.Now())
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
