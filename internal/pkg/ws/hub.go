package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/qs3c/hpc_job_server/internal/pkg/logger"
	"github.com/qs3c/hpc_job_server/internal/pkg/pubsub"
)

// AllAccounts 订阅所有账号的事件
const AllAccounts int64 = 0

type Hub struct {
	// 按账号分组的连接；AllAccounts 组接收全部事件
	clients map[int64]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	AccountID int64
	Conn      *websocket.Conn
	mu        sync.Mutex // 写锁，防止并发写入
}

type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[int64]map[*Client]struct{}),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.AccountID] == nil {
		h.clients[client.AccountID] = make(map[*Client]struct{})
	}
	h.clients[client.AccountID][client] = struct{}{}
	logger.Root().WithField("account_id", client.AccountID).Debug("ws client connected")
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[client.AccountID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.clients, client.AccountID)
		}
	}
	logger.Root().WithField("account_id", client.AccountID).Debug("ws client disconnected")
}

// SendToAccount 发送给订阅该账号以及订阅全部账号的连接
func (h *Hub) SendToAccount(accountID int64, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	// 复制一份引用，避免长时间持锁
	var clients []*Client
	for c := range h.clients[accountID] {
		clients = append(clients, c)
	}
	if accountID != AllAccounts {
		for c := range h.clients[AllAccounts] {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		err := c.Conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			logger.Root().WithField("account_id", accountID).Warnf("ws write error: %v", err)
		}
	}
	return nil
}

// Pump forwards events from the stream until ctx ends or events closes.
func (h *Hub) Pump(ctx context.Context, events <-chan *pubsub.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = h.SendToAccount(ev.AccountID, &Message{Type: ev.Type, Data: ev})
		}
	}
}

// ConnectionCount 获取在线连接数
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.clients {
		total += len(conns)
	}
	return total
}
