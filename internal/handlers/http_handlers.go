package handlers

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"golang.org/x/xerrors"

	"raffle/internal/events"
	"raffle/internal/ledger"
	"raffle/internal/middleware"
	"raffle/internal/models"
	"raffle/internal/oracle"
	"raffle/internal/services"
	"raffle/internal/store"
)

const defaultRoundsLimit = 20

// HTTPHandler exposes the raffle over JSON.
type HTTPHandler struct {
	raffle *services.RaffleService
	bus    *events.Bus
	rounds store.RoundStore
	// dev is nil on live networks.
	dev *DevTools
	now func() time.Time
}

// DevTools are the local chain facilities available on development networks.
type DevTools struct {
	Bank        *ledger.Bank
	Coordinator *oracle.Coordinator
}

// NewHTTPHandler creates a new HTTPHandler. dev may be nil.
func NewHTTPHandler(raffle *services.RaffleService, bus *events.Bus, rounds store.RoundStore, dev *DevTools) *HTTPHandler {
	return &HTTPHandler{
		raffle: raffle,
		bus:    bus,
		rounds: rounds,
		dev:    dev,
		now:    time.Now,
	}
}

// RegisterRoutes registers all the application routes. The oracle callback is
// guarded by a token signed with oracleSecret.
func (h *HTTPHandler) RegisterRoutes(router *gin.Engine, oracleSecret string) {
	raffle := router.Group("/raffle")
	raffle.GET("", h.GetRaffle)
	raffle.GET("/players/:index", h.GetPlayer)
	raffle.POST("/enter", h.EnterRaffle)
	raffle.GET("/upkeep", h.CheckUpkeep)
	raffle.POST("/upkeep", h.PerformUpkeep)
	raffle.GET("/rounds", h.ListRounds)
	raffle.GET("/events", h.ListEvents)

	router.POST("/oracle/fulfill", middleware.OracleAuth(oracleSecret), h.FulfillRandomWords)

	if h.dev != nil {
		dev := router.Group("/dev")
		dev.POST("/accounts/:address/fund", h.FundAccount)
		dev.GET("/accounts/:address", h.GetAccount)
		dev.POST("/vrf/:requestId/fulfill", h.FulfillPending)
	}
}

type raffleResponse struct {
	Address              string             `json:"address"`
	State                models.RaffleState `json:"state"`
	EntranceFee          string             `json:"entranceFee"`
	EntranceFeeEther     string             `json:"entranceFeeEther"`
	Interval             string             `json:"interval"`
	Players              int                `json:"players"`
	Balance              string             `json:"balance"`
	BalanceEther         string             `json:"balanceEther"`
	RecentWinner         string             `json:"recentWinner"`
	LatestTimestamp      time.Time          `json:"latestTimestamp"`
	PendingRequest       *models.RequestID  `json:"pendingRequest,omitempty"`
	PendingSince         *time.Time         `json:"pendingSince,omitempty"`
	Round                uint64             `json:"round"`
	NumWords             uint32             `json:"numWords"`
	RequestConfirmations uint16             `json:"requestConfirmations"`
}

type upkeepResponse struct {
	UpkeepNeeded bool               `json:"upkeepNeeded"`
	State        models.RaffleState `json:"state"`
	IsOpen       bool               `json:"isOpen"`
	TimePassed   bool               `json:"timePassed"`
	HasPlayers   bool               `json:"hasPlayers"`
	HasBalance   bool               `json:"hasBalance"`
	Elapsed      string             `json:"elapsed"`
	Players      int                `json:"players"`
	Balance      string             `json:"balance"`
}

func newUpkeepResponse(u models.UpkeepStatus) upkeepResponse {
	return upkeepResponse{
		UpkeepNeeded: u.UpkeepNeeded,
		State:        u.State,
		IsOpen:       u.IsOpen,
		TimePassed:   u.TimePassed,
		HasPlayers:   u.HasPlayers,
		HasBalance:   u.HasBalance,
		Elapsed:      u.Elapsed.String(),
		Players:      u.Players,
		Balance:      u.Balance.String(),
	}
}

// GetRaffle returns a consistent snapshot of the raffle.
func (h *HTTPHandler) GetRaffle(c *gin.Context) {
	snap := h.raffle.Snapshot()
	c.JSON(http.StatusOK, raffleResponse{
		Address:              h.raffle.Params().Address.Hex(),
		State:                snap.State,
		EntranceFee:          snap.EntranceFee.String(),
		EntranceFeeEther:     models.FormatEther(snap.EntranceFee),
		Interval:             snap.Interval.String(),
		Players:              snap.Players,
		Balance:              snap.Balance.String(),
		BalanceEther:         models.FormatEther(snap.Balance),
		RecentWinner:         snap.RecentWinner.Hex(),
		LatestTimestamp:      snap.LatestTimestamp,
		PendingRequest:       snap.PendingRequest,
		PendingSince:         snap.PendingSince,
		Round:                snap.Round,
		NumWords:             snap.NumWords,
		RequestConfirmations: snap.RequestConfirmations,
	})
}

// GetPlayer returns the participant at the given index of the current round.
func (h *HTTPHandler) GetPlayer(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be an integer"})
		return
	}
	player, err := h.raffle.Player(index)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"index": index, "player": player.Hex()})
}

// valueRequest carries an amount either in wei (Value) or in ether (Ether).
type valueRequest struct {
	Value string `json:"value"`
	Ether string `json:"ether"`
}

func (r valueRequest) amount() (*big.Int, error) {
	switch {
	case r.Value != "" && r.Ether != "":
		return nil, xerrors.New("give either value or ether, not both")
	case r.Ether != "":
		return models.ParseEther(r.Ether)
	case r.Value != "":
		v, ok := new(big.Int).SetString(r.Value, 10)
		if !ok || v.Sign() < 0 {
			return nil, xerrors.Errorf("value %q is not a wei amount", r.Value)
		}
		return v, nil
	default:
		return new(big.Int), nil
	}
}

type enterRequest struct {
	Player string `json:"player" binding:"required"`
	valueRequest
}

// EnterRaffle adds the player to the current round.
func (h *HTTPHandler) EnterRaffle(c *gin.Context) {
	var req enterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	player, ok := parseAddress(c, req.Player)
	if !ok {
		return
	}
	amount, err := req.amount()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.raffle.EnterRaffle(c.Request.Context(), player, amount); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"player":  player.Hex(),
		"value":   amount.String(),
		"players": h.raffle.NumberOfPlayers(),
	})
}

// CheckUpkeep reports whether a draw may start now.
func (h *HTTPHandler) CheckUpkeep(c *gin.Context) {
	c.JSON(http.StatusOK, newUpkeepResponse(h.raffle.CheckUpkeep(h.now())))
}

// PerformUpkeep starts a draw.
func (h *HTTPHandler) PerformUpkeep(c *gin.Context) {
	id, err := h.raffle.PerformUpkeep(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"requestId": id, "state": h.raffle.RaffleState()})
}

// ListRounds returns finished rounds, newest first.
func (h *HTTPHandler) ListRounds(c *gin.Context) {
	limit := defaultRoundsLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	rounds, err := h.rounds.ListRounds(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rounds": rounds})
}

// ListEvents returns the recent event log, optionally filtered by name.
func (h *HTTPHandler) ListEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"events": h.bus.Events(c.Query("name"))})
}

type fulfillRequest struct {
	RequestID   models.RequestID `json:"requestId" binding:"required"`
	RandomWords []string         `json:"randomWords" binding:"required"`
}

// FulfillRandomWords accepts randomness from an authenticated external oracle.
// On development networks the local coordinator owns fulfillment and this route is refused.
func (h *HTTPHandler) FulfillRandomWords(c *gin.Context) {
	if h.dev != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "the local coordinator answers requests on this network, use /dev/vrf/:requestId/fulfill"})
		return
	}
	var req fulfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	words, err := parseWords(req.RandomWords)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.raffle.FulfillRandomWords(c.Request.Context(), req.RequestID, words); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recentWinner": h.raffle.RecentWinner().Hex(), "round": h.raffle.RoundNumber()})
}

func parseWords(raw []string) ([]*big.Int, error) {
	words := make([]*big.Int, 0, len(raw))
	for _, s := range raw {
		w, ok := new(big.Int).SetString(s, 0)
		if !ok {
			return nil, xerrors.Errorf("random word %q is not an integer", s)
		}
		words = append(words, w)
	}
	return words, nil
}

func parseAddress(c *gin.Context, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address " + strconv.Quote(s)})
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// fail maps an error from the raffle or its collaborators to a response.
func (h *HTTPHandler) fail(c *gin.Context, err error) {
	var notNeeded *services.UpkeepNotNeededError
	switch {
	case errors.As(err, &notNeeded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "upkeep": newUpkeepResponse(notNeeded.Status)})
		return
	case errors.Is(err, services.ErrInsufficientPayment), errors.Is(err, ledger.ErrInsufficientFunds):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrRaffleNotOpen), errors.Is(err, oracle.ErrNotConfirmed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrTransferFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrUnknownRequest), errors.Is(err, oracle.ErrUnknownRequest), errors.Is(err, services.ErrPlayerIndex):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrOnlyCoordinator):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNoRandomWords), errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, oracle.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Errorf("handlers: %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
