package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"raffle/internal/models"
	"raffle/internal/oracle"
)

// FundAccount is the development faucet.
func (h *HTTPHandler) FundAccount(c *gin.Context) {
	addr, ok := parseAddress(c, c.Param("address"))
	if !ok {
		return
	}
	var req valueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := req.amount()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.dev.Bank.Credit(addr, amount); err != nil {
		h.fail(c, err)
		return
	}
	h.GetAccount(c)
}

// GetAccount returns an account balance.
func (h *HTTPHandler) GetAccount(c *gin.Context) {
	addr, ok := parseAddress(c, c.Param("address"))
	if !ok {
		return
	}
	bal := h.dev.Bank.Balance(addr)
	c.JSON(http.StatusOK, gin.H{
		"address":      addr.Hex(),
		"balance":      bal.String(),
		"balanceEther": models.FormatEther(bal),
	})
}

type devFulfillRequest struct {
	RandomWords []string `json:"randomWords"`
}

// FulfillPending mines until the request is confirmed and answers it, with
// the given words when present.
func (h *HTTPHandler) FulfillPending(c *gin.Context) {
	n, err := strconv.ParseUint(c.Param("requestId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "requestId must be an unsigned integer"})
		return
	}
	id := models.RequestID(n)

	var req devFulfillRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	coordinator := h.dev.Coordinator
	var pending *oracle.Request
	for _, r := range coordinator.Pending() {
		if r.ID == id {
			r := r
			pending = &r
			break
		}
	}
	if pending == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending request " + c.Param("requestId")})
		return
	}
	if height := coordinator.BlockNumber(); !pending.Confirmed(height) {
		coordinator.Mine(pending.BlockNumber + uint64(pending.MinConfirmations) - height)
	}

	var f *oracle.Fulfillment
	if len(req.RandomWords) > 0 {
		words, perr := parseWords(req.RandomWords)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": perr.Error()})
			return
		}
		f, err = coordinator.FulfillRandomWordsWithOverride(c.Request.Context(), id, words)
	} else {
		f, err = coordinator.FulfillRandomWords(c.Request.Context(), id)
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	words := make([]string, len(f.Words))
	for i, w := range f.Words {
		words[i] = w.String()
	}
	c.JSON(http.StatusOK, gin.H{
		"requestId":    f.RequestID,
		"randomWords":  words,
		"payment":      f.Payment.String(),
		"recentWinner": h.raffle.RecentWinner().Hex(),
	})
}
