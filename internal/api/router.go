package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pitchside/hub/internal/api/handler"
	"github.com/pitchside/hub/internal/api/middleware"
	"github.com/pitchside/hub/internal/config"
	"github.com/pitchside/hub/internal/service"
	"github.com/pitchside/hub/internal/ws"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	AuthSvc       *service.AuthService
	GameSvc       *service.GameService
	MarketSvc     *service.MarketService
	BetSvc        *service.BetService
	OrderSvc      *service.OrderBookService
	LPSvc         *service.LPService
	ResolutionSvc *service.ResolutionService
	AdminSvc      *service.AdminService
	MMSvc         *service.MMService
	Hub           *ws.Hub
	Cfg           *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	marketH := handler.NewMarketHandler(deps.MarketSvc)
	betH := handler.NewBetHandler(deps.BetSvc)
	orderH := handler.NewOrderBookHandler(deps.OrderSvc)
	lpH := handler.NewLPHandler(deps.LPSvc)
	oracleH := handler.NewOracleHandler(deps.GameSvc, deps.MarketSvc, deps.ResolutionSvc)
	adminH := handler.NewAdminHandler(deps.AuthSvc, deps.AdminSvc)
	mmH := handler.NewMMHandler(deps.MMSvc)

	// ── Admin token middleware (shared by oracle + admin groups) ─────────────
	adminMW := middleware.AdminAuth(deps.AuthSvc)

	// ── Rate limiters ─────────────────────────────────────────────────────────
	readRL := middleware.RateLimit(deps.Cfg.Server.RateLimitRPS)
	tradeRL := middleware.RateLimit(tradeRPS(deps.Cfg.Server.RateLimitRPS))

	api := r.Group("/api")
	api.Use(readRL)
	{
		// ── Markets (public) ─────────────────────────────────────────────────
		api.GET("/market", marketH.GetCurrent)
		api.GET("/market/:id", marketH.GetByID)
		api.GET("/markets", marketH.List)

		// ── Betting (public, trade rate limit) ───────────────────────────────
		api.POST("/bet", tradeRL, betH.PlaceBet)
		api.GET("/positions/:address", betH.GetPositions)

		// ── Order book ───────────────────────────────────────────────────────
		orders := api.Group("/orderbook")
		{
			orders.POST("/order", tradeRL, orderH.PlaceOrder)
			orders.DELETE("/order/:orderId", tradeRL, orderH.CancelOrder)
			orders.GET("/depth/:marketId", orderH.GetDepth)
			orders.GET("/orders/:address", orderH.GetOrders)
		}

		// ── Liquidity pool ───────────────────────────────────────────────────
		lp := api.Group("/lp")
		{
			lp.POST("/deposit", tradeRL, lpH.Deposit)
			lp.POST("/withdraw", tradeRL, lpH.Withdraw)
			lp.GET("/stats", lpH.Stats)
			lp.GET("/share/:address", lpH.Share)
			lp.GET("/events", lpH.Events)
		}

		// ── Market maker + faucet ────────────────────────────────────────────
		api.GET("/mm/info", mmH.Info)
		api.POST("/faucet", tradeRL, mmH.Faucet)

		// ── Oracle (admin token) ─────────────────────────────────────────────
		oracle := api.Group("/oracle")
		oracle.Use(adminMW)
		{
			oracle.POST("/game-state", oracleH.SetGameState)
			oracle.POST("/game", oracleH.CreateGame)
			oracle.POST("/game/activate", oracleH.ActivateGame)
			oracle.POST("/game/complete", oracleH.CompleteGame)
			oracle.POST("/market/open", oracleH.OpenMarket)
			oracle.POST("/market/close", oracleH.CloseMarket)
			oracle.POST("/outcome", oracleH.Outcome)
		}

		// ── Admin ────────────────────────────────────────────────────────────
		api.POST("/admin/login", adminH.Login)

		admin := api.Group("/admin")
		admin.Use(adminMW)
		{
			admin.GET("/state", adminH.State)
			admin.POST("/reset", adminH.Reset)
			admin.GET("/config", adminH.GetConfig)
			admin.POST("/config", adminH.UpdateConfig)
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWS(c.Writer, c.Request)
		})
	}

	return r
}

// tradeRPS derives the tighter budget used on order-placing endpoints.
func tradeRPS(rps int) int {
	t := rps / 5
	if t < 5 {
		t = 5
	}
	return t
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// With no configured origins all are allowed; otherwise only the configured
// list is echoed back.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if len(allowed) == 0 {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
