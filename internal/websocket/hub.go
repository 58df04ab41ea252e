package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrClientNotFound = errors.New("客户端不存在")
	ErrSendBufferFull = errors.New("发送缓冲区已满")
)

// MessageType 消息类型
const (
	// 系统消息
	MessageTypeConnected = "connected"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeError     = "error"

	// 任务与支付消息
	MessageTypeJobStatus       = "job_status"
	MessageTypePaymentProgress = "payment_progress"
	MessageTypePaymentComplete = "payment_complete"
	MessageTypeDispenseResult  = "dispense_result"
	MessageTypeHardwareStatus  = "hardware_status"
)

// Message 推送给前端面板的消息
type Message struct {
	Type      string          `json:"type"`
	JobID     string          `json:"job_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Hub WebSocket连接管理中心
//
// 任务状态、收款进度和找零结果都经 Hub 推给前端面板，
// 工作协程不直接碰 UI 状态。
type Hub struct {
	clients   map[string]*Client
	clientsMu sync.RWMutex

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client

	logger *zap.Logger
}

// NewHub 创建Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run 运行Hub
func (h *Hub) Run() {
	go h.runHeartbeat()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端连接", zap.String("client_id", client.ID))

	msg := &Message{
		Type:      MessageTypeConnected,
		Timestamp: time.Now().Unix(),
		Data:      json.RawMessage(`{"message":"连接成功"}`),
	}
	if err := h.SendToClient(client.ID, msg); err != nil {
		h.logger.Warn("发送连接确认失败", zap.String("client_id", client.ID), zap.Error(err))
	}
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
	}
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端断开", zap.String("client_id", client.ID))
}

// broadcastMessage 广播消息
func (h *Hub) broadcastMessage(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return
	}

	h.clientsMu.RLock()
	for _, client := range h.clients {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("客户端发送缓冲区满", zap.String("client_id", client.ID))
		}
	}
	h.clientsMu.RUnlock()
}

// SendToClient 发送消息给指定客户端
func (h *Hub) SendToClient(clientID string, message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.clientsMu.RLock()
	client, ok := h.clients[clientID]
	h.clientsMu.RUnlock()

	if !ok {
		return ErrClientNotFound
	}

	select {
	case client.Send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// GetOnlineCount 获取在线连接数
func (h *Hub) GetOnlineCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// runHeartbeat 运行心跳检测
func (h *Hub) runHeartbeat() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		<-ticker.C
		h.broadcast <- &Message{
			Type:      MessageTypePing,
			Timestamp: time.Now().Unix(),
		}
	}
}

// Broadcast 广播消息（公开方法）
func (h *Hub) Broadcast(message *Message) {
	h.broadcast <- message
}

// Register 注册客户端（公开方法）
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister 注销客户端（公开方法）
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// PushJobStatus 推送任务状态变更
func (h *Hub) PushJobStatus(jobID, status, reason string) {
	data, _ := json.Marshal(map[string]string{"status": status, "reason": reason})
	h.Broadcast(&Message{
		Type:      MessageTypeJobStatus,
		JobID:     jobID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// PushPaymentProgress 推送收款进度
func (h *Hub) PushPaymentProgress(jobID string, total, remaining int64) {
	data, _ := json.Marshal(map[string]int64{"total": total, "remaining": remaining})
	h.Broadcast(&Message{
		Type:      MessageTypePaymentProgress,
		JobID:     jobID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// PushDispenseResult 推送找零结果
func (h *Hub) PushDispenseResult(jobID, result string, amount int64) {
	data, _ := json.Marshal(map[string]interface{}{"result": result, "amount": amount})
	h.Broadcast(&Message{
		Type:      MessageTypeDispenseResult,
		JobID:     jobID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}
