package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub 按 run 维护订阅连接。同一个 run 可以有多个订阅者（多标签页、重连等场景）。
type Hub struct {
	clients map[int64]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	RunID int64
	Conn  *websocket.Conn
	mu    sync.Mutex // 写锁，防止并发写入
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

	if h.clients[client.RunID] == nil {
		h.clients[client.RunID] = make(map[*Client]struct{})
	}
	h.clients[client.RunID][client] = struct{}{}

	log.Printf("Run %d subscriber connected, subs: %d", client.RunID, len(h.clients[client.RunID]))
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[client.RunID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.clients, client.RunID)
		}
	}
	log.Printf("Run %d subscriber disconnected", client.RunID)
}

// SendToRun 向订阅指定 run 的所有连接发送消息
func (h *Hub) SendToRun(runID int64, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	conns, ok := h.clients[runID]
	if !ok {
		h.mu.RUnlock()
		return nil
	}
	// 复制一份引用，避免长时间持锁
	clients := make([]*Client, 0, len(conns))
	for c := range conns {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		err := c.Conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			log.Printf("SendToRun write error for run %d: %v", runID, err)
		}
	}
	return nil
}

// SubscriberCount 指定 run 的订阅数
func (h *Hub) SubscriberCount(runID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[runID])
}

// ConnectionCount 总连接数
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.clients {
		total += len(conns)
	}
	return total
}
