package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bountyboard/bountyboard/pkg/middleware"
	"github.com/bountyboard/bountyboard/services/catalog"
	"github.com/bountyboard/bountyboard/services/guild"
	"github.com/bountyboard/bountyboard/services/ledger"
	"github.com/bountyboard/bountyboard/services/reward"
	"github.com/bountyboard/bountyboard/services/shop"
	"github.com/bountyboard/bountyboard/services/workflow"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Handler exposes the engine over HTTP for ops tooling and the chat
// connector. Message rendering stays with the connector; every response is
// the typed outcome as JSON.
type Handler struct {
	guilds    *guild.Service
	ledger    *ledger.Service
	catalog   *catalog.Service
	engine    *workflow.Engine
	evaluator *reward.Evaluator
	shop      *shop.Service
	db        *gorm.DB
	redis     *goredis.Client
}

type HandlerParams struct {
	fx.In

	Guilds    *guild.Service
	Ledger    *ledger.Service
	Catalog   *catalog.Service
	Engine    *workflow.Engine
	Evaluator *reward.Evaluator
	Shop      *shop.Service
	DB        *gorm.DB
	Redis     *goredis.Client
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		guilds:    p.Guilds,
		ledger:    p.Ledger,
		catalog:   p.Catalog,
		engine:    p.Engine,
		evaluator: p.Evaluator,
		shop:      p.Shop,
		db:        p.DB,
		redis:     p.Redis,
	}
}

// ProvideRouter builds the gin engine served by pkg/server.
func ProvideRouter(h *Handler) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz", h.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		g := v1.Group("/guilds/:guild_id")
		g.PUT("/setup", h.setupGuild)
		g.GET("", h.getGuild)
		g.GET("/leaderboard", h.leaderboard)

		g.POST("/requests", h.registerRequest)
		g.GET("/requests", h.listRequests)
		g.DELETE("/requests", h.deleteRequest)

		g.POST("/rewards", h.registerReward)
		g.DELETE("/rewards/:reward_id", h.deleteReward)
		g.GET("/shop", h.shopCatalog)

		g.POST("/achievements", h.registerAchievement)
		g.GET("/achievements", h.listAchievements)
		g.DELETE("/achievements/:achievement_id", h.deleteAchievement)

		m := g.Group("/members/:member_id")
		m.GET("/card", h.memberCard)
		m.POST("/points", h.adjustPoints)
		m.POST("/shop/buy", h.buy)
		m.POST("/shop/toggle", h.toggle)
	}

	s := v1.Group("/submissions")
	s.POST("", h.admit)
	s.POST("/choose", h.choose)
	s.POST("/accept", h.accept)
	s.POST("/deny", h.deny)

	return r
}

func (h *Handler) healthz(c *gin.Context) {
	ctx := c.Request.Context()

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
		return
	}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) setupGuild(c *gin.Context) {
	var req struct {
		Name              string `json:"name"`
		Currency          string `json:"currency"`
		SubmissionChannel string `json:"submission_channel"`
		ReviewChannel     string `json:"review_channel"`
		InfoChannel       string `json:"info_channel"`
		CooldownHours     int    `json:"cooldown_hours"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	g, err := h.guilds.Setup(c.Request.Context(), guild.SetupParams{
		GuildID:           c.Param("guild_id"),
		Name:              req.Name,
		Currency:          req.Currency,
		SubmissionChannel: req.SubmissionChannel,
		ReviewChannel:     req.ReviewChannel,
		InfoChannel:       req.InfoChannel,
		CooldownHours:     req.CooldownHours,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) getGuild(c *gin.Context) {
	g, err := h.guilds.Get(c.Request.Context(), c.Param("guild_id"))
	if err != nil {
		c.Error(err)
		return
	}
	if g == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "guild not configured"})
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) leaderboard(c *gin.Context) {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	top, err := h.ledger.Leaderboard(c.Request.Context(), c.Param("guild_id"), limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": top})
}

func (h *Handler) memberCard(c *gin.Context) {
	ctx := c.Request.Context()
	guildID := c.Param("guild_id")
	memberID := c.Param("member_id")

	g, err := h.guilds.Get(ctx, guildID)
	if err != nil {
		c.Error(err)
		return
	}

	m, err := h.ledger.Get(ctx, guildID, memberID)
	if err != nil {
		c.Error(err)
		return
	}
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "member has no ledger entry"})
		return
	}

	rank, err := h.ledger.Rank(ctx, guildID, memberID)
	if err != nil {
		c.Error(err)
		return
	}
	achievements, err := h.catalog.AchievementAttributions(ctx, guildID, memberID)
	if err != nil {
		c.Error(err)
		return
	}

	currency := "points"
	if g != nil && g.Currency != "" {
		currency = g.Currency
	}
	c.JSON(http.StatusOK, gin.H{
		"member":          m,
		"balance":         m.Balance(),
		"rank":            rank,
		"currency":        currency,
		"achievement_ids": achievements,
	})
}

func (h *Handler) registerRequest(c *gin.Context) {
	var req struct {
		Type   string `json:"type"`
		Name   string `json:"name"`
		Effect string `json:"effect"`
		Value  int64  `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	def, err := h.catalog.RegisterRequest(c.Request.Context(), c.Param("guild_id"), req.Type, req.Name, req.Effect, req.Value)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, def)
}

func (h *Handler) listRequests(c *gin.Context) {
	defs, err := h.catalog.ListRequests(c.Request.Context(), c.Param("guild_id"), c.Query("type"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": defs})
}

func (h *Handler) deleteRequest(c *gin.Context) {
	err := h.catalog.DeleteRequest(c.Request.Context(), c.Param("guild_id"),
		c.Query("type"), c.Query("name"), c.Query("effect"))
	if err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) registerReward(c *gin.Context) {
	var req struct {
		Name           string `json:"name"`
		Condition      string `json:"condition"`
		Kind           string `json:"kind"`
		Payload        string `json:"payload"`
		PointsRequired int64  `json:"points_required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	def, err := h.catalog.RegisterReward(c.Request.Context(), c.Param("guild_id"),
		req.Name, catalog.RewardCondition(req.Condition), catalog.GrantKind(req.Kind),
		req.Payload, req.PointsRequired)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, def)
}

func (h *Handler) deleteReward(c *gin.Context) {
	err := h.catalog.DeleteReward(c.Request.Context(), c.Param("guild_id"), c.Param("reward_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) registerAchievement(c *gin.Context) {
	var req struct {
		Name        string                  `json:"name"`
		Description string                  `json:"description"`
		Icon        []byte                  `json:"icon"`
		Condition   catalog.UnlockCondition `json:"condition"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	def, err := h.catalog.RegisterAchievement(c.Request.Context(), c.Param("guild_id"),
		req.Name, req.Description, req.Icon, req.Condition)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, def)
}

func (h *Handler) listAchievements(c *gin.Context) {
	defs, err := h.catalog.ListAchievements(c.Request.Context(), c.Param("guild_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"achievements": defs})
}

func (h *Handler) deleteAchievement(c *gin.Context) {
	err := h.catalog.DeleteAchievement(c.Request.Context(), c.Param("guild_id"), c.Param("achievement_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// adjustPoints is the moderator points_add/points_sub surface. Every
// adjustment re-runs the unlock evaluation.
func (h *Handler) adjustPoints(c *gin.Context) {
	var req struct {
		Delta    int64  `json:"delta"`
		Nickname string `json:"nickname"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Delta == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "delta must be non-zero"})
		return
	}

	ctx := c.Request.Context()
	guildID := c.Param("guild_id")
	memberID := c.Param("member_id")

	nickname := req.Nickname
	if nickname == "" {
		nickname = memberID
	}
	if _, err := h.ledger.EnsureMember(ctx, guildID, memberID, nickname); err != nil {
		c.Error(err)
		return
	}
	if err := h.ledger.AddPoints(ctx, guildID, memberID, req.Delta); err != nil {
		c.Error(err)
		return
	}

	evaluation, err := h.evaluator.EvaluateMember(ctx, guildID, memberID)
	if err != nil {
		c.Error(err)
		return
	}

	m, err := h.ledger.Get(ctx, guildID, memberID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"member": m, "evaluation": evaluation})
}

func (h *Handler) shopCatalog(c *gin.Context) {
	defs, err := h.shop.Catalog(c.Request.Context(), c.Param("guild_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rewards": defs})
}

func (h *Handler) buy(c *gin.Context) {
	var req struct {
		RewardID string `json:"reward_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	def, err := h.shop.Buy(c.Request.Context(), c.Param("guild_id"), c.Param("member_id"), req.RewardID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"granted": def})
}

func (h *Handler) toggle(c *gin.Context) {
	var req struct {
		RewardID string `json:"reward_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	active, err := h.shop.Toggle(c.Request.Context(), c.Param("guild_id"), c.Param("member_id"), req.RewardID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": active})
}

func (h *Handler) admit(c *gin.Context) {
	var req struct {
		GuildID   string   `json:"guild_id"`
		MemberID  string   `json:"member_id"`
		Nickname  string   `json:"nickname"`
		Channel   string   `json:"channel"`
		MessageID string   `json:"message_id"`
		Images    []string `json:"images"`
		Mentioned []string `json:"mentioned"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.engine.Admit(c.Request.Context(), workflow.Submission{
		GuildID:   req.GuildID,
		MemberID:  req.MemberID,
		Nickname:  req.Nickname,
		Channel:   req.Channel,
		MessageID: req.MessageID,
		Images:    req.Images,
		Mentioned: req.Mentioned,
	}, time.Now())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) choose(c *gin.Context) {
	var req struct {
		MemberID  string `json:"member_id"`
		MessageID string `json:"message_id"`
		Step      string `json:"step"`
		Value     string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key := workflow.Key{MemberID: req.MemberID, MessageID: req.MessageID}
	res, err := h.engine.Choose(c.Request.Context(), key, workflow.Step(req.Step), req.Value, time.Now())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) accept(c *gin.Context) {
	var req struct {
		MemberID  string `json:"member_id"`
		MessageID string `json:"message_id"`
		Value     int64  `json:"value"`
		Moderator string `json:"moderator"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key := workflow.Key{MemberID: req.MemberID, MessageID: req.MessageID}
	res, err := h.engine.Accept(c.Request.Context(), key, req.Value, req.Moderator)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) deny(c *gin.Context) {
	var req struct {
		MemberID  string `json:"member_id"`
		MessageID string `json:"message_id"`
		Value     int64  `json:"value"`
		Moderator string `json:"moderator"`
		Reason    string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key := workflow.Key{MemberID: req.MemberID, MessageID: req.MessageID}
	res, err := h.engine.Deny(c.Request.Context(), key, req.Value, req.Moderator, req.Reason)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}
