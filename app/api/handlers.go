package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/trend-comb/app/content"
	"github.com/lysyi3m/trend-comb/app/feed"
	"github.com/lysyi3m/trend-comb/app/ledger"
	"github.com/lysyi3m/trend-comb/app/publish"
	"github.com/lysyi3m/trend-comb/app/source"
	"github.com/lysyi3m/trend-comb/app/store"
	"github.com/lysyi3m/trend-comb/app/tasks"
)

const defaultWindow = content.WindowShort

func NewHandler(aggregator FeedRunner, index ItemIndex, balances BalanceLedger, publisher Publisher,
	configCache *source.ConfigCache, registry *source.Registry,
	scheduler tasks.TaskSchedulerInterface, st store.Store) *Handler {
	return &Handler{
		aggregator:  aggregator,
		index:       index,
		ledger:      balances,
		publisher:   publisher,
		configCache: configCache,
		registry:    registry,
		scheduler:   scheduler,
		store:       st,
		now:         time.Now,
	}
}

func (h *Handler) GetFeed(c *gin.Context) {
	window, err := content.ParseWindow(c.DefaultQuery("window", string(defaultWindow)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var category content.Category
	if raw := c.Query("category"); raw != "" && raw != "all" {
		category, err = content.ParseCategory(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	limit := feed.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
	}

	result, err := h.aggregator.Run(c.Request.Context(), feed.Query{
		Window:   window,
		Category: category,
		Limit:    limit,
	})
	if err != nil {
		slog.Error("Feed aggregation failed", "window", window, "category", category, "error", err)
		h.respondError(c, err)
		return
	}

	c.Header("X-Feed-Items", strconv.Itoa(len(result.Items)))
	if result.Degraded {
		c.Header("X-Feed-Degraded", "true")
	}

	c.JSON(http.StatusOK, feedResponse{
		Items:         result.Items,
		Count:         len(result.Items),
		Window:        window,
		Category:      string(category),
		Degraded:      result.Degraded,
		FailedSources: result.FailedSources(),
		GeneratedAt:   h.now().UTC(),
	})
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"status":    "ok",
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		slog.Error("Store health check failed", "error", err)
		health["status"] = "degraded"
		health["store"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	health["sources"] = h.registry.Count()
	health["loaded_configurations"] = h.configCache.GetConfigCount()

	c.JSON(status, health)
}

func (h *Handler) APIListSources(c *gin.Context) {
	configs := h.configCache.GetConfigs()

	sources := make([]sourceInfo, 0, len(configs))
	for _, sourceConfig := range configs {
		info := sourceInfo{
			Name:            sourceConfig.Name,
			Type:            sourceConfig.Type,
			URL:             sourceConfig.URL,
			Enabled:         sourceConfig.Settings.Enabled,
			RefreshInterval: sourceConfig.Settings.RefreshDuration().String(),
			CacheTTL:        sourceConfig.Settings.CacheTTLDuration().String(),
			MaxItems:        sourceConfig.Settings.MaxItems,
			RateLimit:       sourceConfig.Settings.RateLimit.Limit,
		}
		if s, ok := h.registry.Get(sourceConfig.Name); ok {
			remaining := s.RateLimitRemaining()
			info.Registered = true
			info.BreakerState = s.BreakerState()
			info.RateRemaining = &remaining
		}
		sources = append(sources, info)
	}
	sortSources(sources)

	c.JSON(http.StatusOK, map[string]interface{}{
		"sources": sources,
		"total":   len(sources),
	})
}

func (h *Handler) APIReloadSource(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing source name parameter"})
		return
	}

	if _, err := h.configCache.GetConfig(name); err != nil {
		slog.Error("Source configuration not found", "source", name, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "Source configuration not found"})
		return
	}

	syncTask := tasks.NewSyncSourceConfigTask(name, h.configCache, h.registry)
	if err := h.scheduler.EnqueueTask(syncTask); err != nil {
		slog.Error("Error enqueueing sync task", "source", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue sync task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Source reload enqueued",
		"source":  name,
		"tasks": []gin.H{
			{
				"id":   syncTask.ID,
				"type": syncTask.Type,
			},
		},
	})
}

func (h *Handler) APIListCreditPackages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"packages":        ledger.Packages(),
		"credits_per_usd": ledger.CreditsPerUSD,
		"publish_cost":    h.publisher.Cost(),
	})
}

func (h *Handler) APIGetBalance(c *gin.Context) {
	snap, err := h.ledger.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		slog.Error("Failed to read balance", "account", c.Param("id"), "error", err)
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) APICreditAccount(c *gin.Context) {
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	h.credit(c, c.Param("id"), req.Amount, nil)
}

func (h *Handler) APIPurchaseCredits(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	var credits int64
	switch {
	case req.Package != "":
		pkg, err := ledger.PackageByName(req.Package)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		credits = pkg.Total()
	default:
		var err error
		credits, err = ledger.CreditsForUSD(req.USD)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	h.credit(c, c.Param("id"), credits, gin.H{"usd": req.USD, "package": req.Package})
}

func (h *Handler) credit(c *gin.Context, account string, amount int64, extra gin.H) {
	balance, err := h.ledger.Credit(c.Request.Context(), account, amount)
	if err != nil {
		slog.Error("Failed to credit account", "account", account, "amount", amount, "error", err)
		h.respondError(c, err)
		return
	}

	response := gin.H{
		"account":  account,
		"credited": amount,
		"balance":  balance,
	}
	for k, v := range extra {
		response[k] = v
	}
	c.JSON(http.StatusOK, response)
}

func (h *Handler) APIPublish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	account := c.Param("id")
	ctx := c.Request.Context()

	item, err := h.index.Get(ctx, req.ItemID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	receipt, err := h.publisher.Publish(ctx, publish.Request{
		Account:     account,
		Destination: req.Destination,
		Item:        item,
		Caption:     req.Caption,
	})
	if err != nil {
		if errors.Is(err, publish.ErrCommitFailed) {
			c.JSON(http.StatusAccepted, gin.H{"receipt": receipt, "warning": err.Error()})
			return
		}
		if receipt != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error(), "receipt": receipt})
			return
		}
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"receipt": receipt})
}

func (h *Handler) APIListSaved(c *gin.Context) {
	items, err := h.index.Saved(c.Request.Context(), c.Param("id"))
	if err != nil {
		slog.Error("Failed to list saved items", "account", c.Param("id"), "error", err)
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

func (h *Handler) APISaveItem(c *gin.Context) {
	item, err := h.index.Save(c.Request.Context(), c.Param("id"), c.Param("item"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"item": item})
}

func (h *Handler) APIUnsaveItem(c *gin.Context) {
	if err := h.index.Unsave(c.Request.Context(), c.Param("id"), c.Param("item")); err != nil {
		slog.Error("Failed to unsave item", "account", c.Param("id"), "item_id", c.Param("item"), "error", err)
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func sortSources(sources []sourceInfo) {
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })
}

func (h *Handler) respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, publish.ErrNeedsTopUp):
		return http.StatusPaymentRequired
	case errors.Is(err, publish.ErrPublishFailed),
		errors.Is(err, publish.ErrRollbackFailed):
		return http.StatusBadGateway
	case errors.Is(err, feed.ErrAggregationFailed),
		errors.Is(err, ledger.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, feed.ErrItemNotFound),
		errors.Is(err, ledger.ErrUnknownReservation):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrReservationResolved):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
