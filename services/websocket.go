package services

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qianlnk/werewolf-judge/models"
)

// DecisionHandler 处理客户端提交的决策
type DecisionHandler interface {
	SubmitDecision(gameID string, playerID int, step Step, d models.Decision) error
}

// client 单个连接，gorilla/websocket要求同一时刻只有一个写者
type client struct {
	conn         *websocket.Conn
	connectionID string
	writeMu      sync.Mutex
}

func (c *client) write(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	// 设置写入超时
	c.conn.SetWriteDeadline(time.Now().Add(time.Second * 5))
	defer c.conn.SetWriteDeadline(time.Time{})
	return c.conn.WriteJSON(v)
}

func (c *client) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second))
}

// WebSocketManager WebSocket连接管理器，实现EventSink
type WebSocketManager struct {
	connections map[string]map[int]*client // gameID -> playerID -> connection
	handler     DecisionHandler
	logger      *log.Logger
	mutex       sync.RWMutex
}

// NewWebSocketManager 创建WebSocket管理器实例
func NewWebSocketManager(logger *log.Logger) *WebSocketManager {
	if logger == nil {
		logger = log.Default()
	}
	return &WebSocketManager{
		connections: make(map[string]map[int]*client),
		logger:      logger,
	}
}

// SetDecisionHandler 设置决策处理方
func (wm *WebSocketManager) SetDecisionHandler(h DecisionHandler) {
	wm.mutex.Lock()
	defer wm.mutex.Unlock()
	wm.handler = h
}

// RegisterConnection 注册新的WebSocket连接，同一玩家的旧连接会被关闭
func (wm *WebSocketManager) RegisterConnection(gameID string, playerID int, conn *websocket.Conn, connectionID string) {
	wm.mutex.Lock()
	players, ok := wm.connections[gameID]
	if !ok {
		players = make(map[int]*client)
		wm.connections[gameID] = players
	}
	if old, exists := players[playerID]; exists {
		old.conn.Close()
	}
	c := &client{conn: conn, connectionID: connectionID}
	players[playerID] = c
	wm.mutex.Unlock()

	wm.logger.Printf("[WebSocket] 游戏 %s 玩家 %d 已连接 (%s)", gameID, playerID, connectionID)
	go wm.handleMessages(gameID, playerID, c)
	go wm.startPingHandler(gameID, playerID, c)
}

// Message 客户端发来的消息
type Message struct {
	Type     string          `json:"type"`
	Step     Step            `json:"step,omitempty"`
	Decision models.Decision `json:"decision,omitempty"`
	Content  string          `json:"content,omitempty"`
}

// Broadcast 向游戏内所有玩家广播
func (wm *WebSocketManager) Broadcast(gameID string, event Event) {
	event.GameID = gameID

	wm.mutex.RLock()
	targets := make(map[int]*client, len(wm.connections[gameID]))
	for id, c := range wm.connections[gameID] {
		targets[id] = c
	}
	wm.mutex.RUnlock()

	for playerID, c := range targets {
		if err := c.write(event); err != nil {
			wm.logger.Printf("[WebSocket广播] 向玩家 %d 发送消息失败: %v", playerID, err)
			go wm.RemoveConnection(gameID, playerID, c)
		}
	}
}

// SendToPlayer 向指定玩家发送私密消息，玩家未连接时丢弃
func (wm *WebSocketManager) SendToPlayer(gameID string, playerID int, event Event) {
	event.GameID = gameID

	wm.mutex.RLock()
	c, ok := wm.connections[gameID][playerID]
	wm.mutex.RUnlock()
	if !ok {
		return
	}
	if err := c.write(event); err != nil {
		wm.logger.Printf("发送消息到玩家 %d 失败: %v", playerID, err)
		go wm.RemoveConnection(gameID, playerID, c)
	}
}

// startPingHandler 启动心跳检测
func (wm *WebSocketManager) startPingHandler(gameID string, playerID int, c *client) {
	ticker := time.NewTicker(time.Second * 15)
	defer ticker.Stop()

	maxFailures := 3
	failures := 0
	for range ticker.C {
		if !wm.isCurrent(gameID, playerID, c) {
			return
		}
		if err := c.ping(); err != nil {
			failures++
			wm.logger.Printf("心跳检测失败 (%d/%d): %v", failures, maxFailures, err)
			if failures >= maxFailures {
				wm.logger.Printf("玩家 %d 的连接已断开（心跳检测失败达到上限）", playerID)
				wm.RemoveConnection(gameID, playerID, c)
				return
			}
			continue
		}
		failures = 0
	}
}

func (wm *WebSocketManager) isCurrent(gameID string, playerID int, c *client) bool {
	wm.mutex.RLock()
	defer wm.mutex.RUnlock()
	return wm.connections[gameID][playerID] == c
}

// RemoveConnection 移除WebSocket连接，c不是当前连接时什么也不做
func (wm *WebSocketManager) RemoveConnection(gameID string, playerID int, c *client) {
	wm.mutex.Lock()
	players := wm.connections[gameID]
	if players[playerID] != c {
		wm.mutex.Unlock()
		return
	}
	delete(players, playerID)
	if len(players) == 0 {
		delete(wm.connections, gameID)
	}
	wm.mutex.Unlock()

	c.writeMu.Lock()
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "连接关闭")
	err := c.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(100*time.Millisecond))
	c.writeMu.Unlock()
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		wm.logger.Printf("发送关闭消息失败: %v", err)
	}
	c.conn.Close()
	wm.logger.Printf("已清理游戏 %s 玩家 %d 的连接", gameID, playerID)
}

// ConnectionCount 游戏当前的连接数
func (wm *WebSocketManager) ConnectionCount(gameID string) int {
	wm.mutex.RLock()
	defer wm.mutex.RUnlock()
	return len(wm.connections[gameID])
}

func (wm *WebSocketManager) replyError(c *client, gameID string, message string) {
	_ = c.write(Event{GameID: gameID, Type: "error", Payload: message})
}

// handleMessages 处理接收到的WebSocket消息
func (wm *WebSocketManager) handleMessages(gameID string, playerID int, c *client) {
	// 设置最大消息大小为512KB
	c.conn.SetReadLimit(512 * 1024)

	for {
		_, p, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wm.logger.Printf("读取消息失败: %v", err)
			}
			wm.RemoveConnection(gameID, playerID, c)
			return
		}

		var msg Message
		if err := json.Unmarshal(p, &msg); err != nil {
			wm.logger.Printf("解析消息失败: %v", err)
			wm.replyError(c, gameID, "无效的消息格式")
			continue
		}

		switch msg.Type {
		case "decision":
			wm.mutex.RLock()
			h := wm.handler
			wm.mutex.RUnlock()
			if h == nil {
				wm.replyError(c, gameID, "游戏未初始化")
				continue
			}
			if err := h.SubmitDecision(gameID, playerID, msg.Step, msg.Decision); err != nil {
				wm.replyError(c, gameID, err.Error())
			}
		case "chat":
			wm.Broadcast(gameID, Event{
				Type:    "chat",
				Payload: map[string]interface{}{"player_id": playerID, "message": msg.Content},
			})
		default:
			wm.logger.Printf("未知的消息类型: %s", msg.Type)
		}
	}
}
