package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"tiller/internal/allocation"
	"tiller/internal/pkg/circuit"
	"tiller/internal/store"
	"tiller/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

// AllocationService is the controller surface the API serves.
type AllocationService interface {
	EvaluateOpportunity(ctx context.Context, opp types.Opportunity) (allocation.Decision, error)
	GetAccountSnapshot(ctx context.Context) (types.AccountSnapshot, error)
	ListOpenPositions(ctx context.Context) ([]types.Position, error)
	CheckExits(ctx context.Context) ([]allocation.ExitResult, error)
}

type Handlers struct {
	service   AllocationService
	breakers  *circuit.Registry
	decisions store.DecisionLog
}

func NewHandlers(service AllocationService, breakers *circuit.Registry, decisions store.DecisionLog) *Handlers {
	return &Handlers{service: service, breakers: breakers, decisions: decisions}
}

func (h *Handlers) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/opportunities", h.handleOpportunity)
	group.GET("/account", h.handleAccount)
	group.GET("/positions", h.handlePositions)
	group.POST("/exits/check", h.handleExitCheck)
	group.GET("/decisions", h.handleDecisions)
	if h.breakers != nil {
		group.GET("/breakers", h.handleBreakers)
		group.POST("/breakers/:name/reset", h.handleBreakerReset)
	}
}

func (h *Handlers) handleOpportunity(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	opp, err := parseOpportunity(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decision, err := h.service.EvaluateOpportunity(c.Request.Context(), opp)
	if err != nil {
		if errors.Is(err, allocation.ErrControllerStopped) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (h *Handlers) handleAccount(c *gin.Context) {
	snap, err := h.service.GetAccountSnapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handlers) handlePositions(c *gin.Context) {
	open, err := h.service.ListOpenPositions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": open, "count": len(open)})
}

func (h *Handlers) handleExitCheck(c *gin.Context) {
	results, err := h.service.CheckExits(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": results, "count": len(results)})
}

func (h *Handlers) handleDecisions(c *gin.Context) {
	if h.decisions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision log not enabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	recent, err := h.decisions.ListRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": recent, "count": len(recent)})
}

func (h *Handlers) handleBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": h.breakers.Snapshots()})
}

func (h *Handlers) handleBreakerReset(c *gin.Context) {
	name := c.Param("name")
	if err := h.breakers.Reset(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": name})
}

// parseOpportunity decodes the intake payload leniently: upstream signal
// generators sometimes send numbers as strings, which gjson coerces.
func parseOpportunity(body []byte) (types.Opportunity, error) {
	if !gjson.ValidBytes(body) {
		return types.Opportunity{}, fmt.Errorf("invalid JSON payload")
	}
	doc := gjson.ParseBytes(body)

	symbol := strings.TrimSpace(doc.Get("symbol").String())
	if symbol == "" {
		return types.Opportunity{}, fmt.Errorf("symbol is required")
	}
	side := types.SideLong
	if s := strings.ToLower(strings.TrimSpace(doc.Get("side").String())); s != "" {
		switch s {
		case "long", "buy":
			side = types.SideLong
		case "short", "sell":
			side = types.SideShort
		default:
			return types.Opportunity{}, fmt.Errorf("unknown side %q", s)
		}
	}
	price := doc.Get("current_price").Float()
	if price <= 0 {
		return types.Opportunity{}, fmt.Errorf("current_price must be positive")
	}
	winProb := doc.Get("win_probability").Float()
	if winProb < 0 || winProb > 1 {
		return types.Opportunity{}, fmt.Errorf("win_probability must be in [0,1]")
	}
	confidence := doc.Get("confidence").Float()
	if confidence == 0 {
		confidence = winProb
	}

	return types.Opportunity{
		Symbol:         strings.ToUpper(symbol),
		Side:           side,
		ExpectedReturn: doc.Get("expected_return").Float(),
		ExpectedLoss:   doc.Get("expected_loss").Float(),
		WinProbability: winProb,
		CurrentPrice:   price,
		Confidence:     confidence,
		Strategy:       strings.TrimSpace(doc.Get("strategy").String()),
		Denomination:   strings.ToUpper(strings.TrimSpace(doc.Get("denomination").String())),
	}, nil
}
