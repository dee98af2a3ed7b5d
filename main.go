package main

import (
	"errors"
	"flag"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/qianlnk/werewolf-judge/config"
	"github.com/qianlnk/werewolf-judge/models"
	"github.com/qianlnk/werewolf-judge/services"
	"github.com/qianlnk/werewolf-judge/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有跨域请求，生产环境中应该更严格
	},
}

// server HTTP接口依赖
type server struct {
	games    *services.GameManager
	ws       *services.WebSocketManager
	records  *store.RecordStore // 可为nil
	defaults models.GameConfig
	autoRun  bool
}

func main() {
	configPath := flag.String("config", "", "配置文件路径")
	flag.Parse()

	// 设置日志格式，包含文件名和行号
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("加载配置失败:", err)
	}

	s := &server{
		ws:       services.NewWebSocketManager(nil),
		defaults: cfg.Game,
		autoRun:  cfg.AutoRun,
	}
	opts := services.ControllerOptions{
		Events:       s.ws,
		AgentTimeout: cfg.AgentTimeout,
		HumanTimeout: cfg.HumanTimeout,
	}
	if cfg.DBPath != "" {
		records, err := store.Open(cfg.DBPath)
		if err != nil {
			log.Fatal("打开对局记录失败:", err)
		}
		defer records.Close()
		s.records = records
		opts.Recorder = records
	}
	seed := cfg.AgentSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	opts.Agent = services.NewRuleAgent(seed)

	s.games = services.NewGameManager(opts)
	s.ws.SetDecisionHandler(s.games)
	log.Printf("初始化完成: WebSocket管理器和游戏管理器已配置")

	r := setupRouter(s)
	log.Printf("服务器启动在 %s", cfg.Addr)
	if err := r.Run(cfg.Addr); err != nil {
		log.Fatal("服务器启动失败:", err)
	}
}

func setupRouter(s *server) *gin.Engine {
	r := gin.Default()

	// 设置跨域中间件
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// WebSocket连接处理
	r.GET("/ws", s.serveWS)

	api := r.Group("/api")
	{
		api.POST("/games", s.createGame)
		api.GET("/games", s.listGames)
		api.GET("/games/:id", s.getGame)
		api.POST("/games/:id/proceed", s.proceedGame)
		api.POST("/games/:id/decisions", s.submitDecision)
		api.GET("/games/:id/summary", s.getSummary)
		api.GET("/games/:id/deaths", s.getDeaths)
		api.DELETE("/games/:id", s.deleteGame)
	}
	return r
}

// errorStatus 错误对应的HTTP状态码
func errorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrGameNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrDecisionAborted):
		return http.StatusRequestTimeout
	case errors.Is(err, services.ErrGameBusy),
		errors.Is(err, services.ErrGameOver),
		errors.Is(err, services.ErrGameInProgress),
		errors.Is(err, services.ErrGameInactive),
		errors.Is(err, services.ErrUnexpectedDecision):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}

func (s *server) serveWS(c *gin.Context) {
	gameID := c.Query("game")
	playerID, err := strconv.Atoi(c.Query("player"))
	connectionID := c.Query("connection_id")
	if gameID == "" || err != nil || connectionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少必要的连接参数"})
		return
	}
	gc, err := s.games.GetGame(gameID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if _, err := gc.State().Player(playerID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("升级WebSocket连接失败: %v", err)
		return
	}
	s.ws.RegisterConnection(gameID, playerID, ws, connectionID)
}

type createGameRequest struct {
	models.GameConfig
	AutoRun *bool `json:"auto_run,omitempty"`
}

func (s *server) createGame(c *gin.Context) {
	var req createGameRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	cfg := req.GameConfig
	if cfg.TotalPlayers == 0 {
		cfg = s.defaults
	}
	autoRun := s.autoRun
	if req.AutoRun != nil {
		autoRun = *req.AutoRun
	}

	gc, err := s.games.CreateGame(cfg, autoRun)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gc.Snapshot().PublicView())
}

func (s *server) listGames(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"games": s.games.ListGames()})
}

// getGame 带player参数时返回该玩家视角
func (s *server) getGame(c *gin.Context) {
	gc, err := s.games.GetGame(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	snap := gc.Snapshot()
	if p := c.Query("player"); p != "" {
		id, err := strconv.Atoi(p)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的玩家ID"})
			return
		}
		resp := gin.H{"game": snap.ViewFor(id)}
		if key, ok := gc.PendingRequest(id); ok {
			resp["pending"] = key
		}
		c.JSON(http.StatusOK, resp)
		return
	}
	c.JSON(http.StatusOK, gin.H{"game": snap.PublicView()})
}

func (s *server) proceedGame(c *gin.Context) {
	gc, err := s.games.GetGame(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if err := gc.Proceed(c.Request.Context()); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"game": gc.Snapshot().PublicView()})
}

type decisionRequest struct {
	PlayerID *int            `json:"player_id" binding:"required"`
	Step     services.Step   `json:"step" binding:"required"`
	Decision models.Decision `json:"decision"`
}

func (s *server) submitDecision(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.games.SubmitDecision(c.Param("id"), *req.PlayerID, req.Step, req.Decision); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "决策已提交"})
}

// getSummary 内存中没有时从对局记录里查
func (s *server) getSummary(c *gin.Context) {
	id := c.Param("id")
	gc, err := s.games.GetGame(id)
	if err == nil {
		if gc.State().Phase() != models.PhaseGameOver {
			abortWithError(c, services.ErrGameInProgress)
			return
		}
		c.JSON(http.StatusOK, gc.Summary())
		return
	}
	if s.records == nil {
		abortWithError(c, err)
		return
	}
	summary, err := s.records.GetSummary(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// getDeaths 死亡记录，进行中的游戏直接取内存状态
func (s *server) getDeaths(c *gin.Context) {
	id := c.Param("id")
	gc, err := s.games.GetGame(id)
	if err == nil {
		c.JSON(http.StatusOK, gc.Summary().DeathHistory)
		return
	}
	if s.records == nil {
		abortWithError(c, err)
		return
	}
	ctx := c.Request.Context()
	if _, err := s.records.GetSummary(ctx, id); err != nil {
		abortWithError(c, err)
		return
	}
	deaths, err := s.records.ListDeaths(ctx, id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, deaths)
}

func (s *server) deleteGame(c *gin.Context) {
	if err := s.games.RemoveGame(c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
