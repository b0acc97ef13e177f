package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelRunProgress = "run_progress"
)

// ProgressMessage 进度消息
type ProgressMessage struct {
	Type        string `json:"type"`
	RunID       int64  `json:"run_id"`
	Status      string `json:"status"`
	Phase       string `json:"phase"`
	Progress    int    `json:"progress"`
	CurrentRepo string `json:"current_repo,omitempty"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
}

// 流水线阶段常量
const (
	PhaseScanningRepos = "scanning_repos"
	PhaseScanning      = "scanning_commits"
	PhaseClustering    = "building_units"
	PhaseAwaitingAI    = "awaiting_ai_confirmation"
	PhaseReviewing     = "reviewing"
	PhaseFinalizing    = "finalizing"
	PhaseDone          = "done"
)

// 阶段对应的进度百分比
var PhaseProgress = map[string]int{
	PhaseScanningRepos: 10,
	PhaseScanning:      35,
	PhaseClustering:    55,
	PhaseAwaitingAI:    60,
	PhaseReviewing:     85,
	PhaseFinalizing:    95,
	PhaseDone:          100,
}

// 阶段对应的消息
var PhaseMessages = map[string]string{
	PhaseScanningRepos: "正在获取仓库列表",
	PhaseScanning:      "正在扫描提交记录",
	PhaseClustering:    "正在构建工作单元",
	PhaseAwaitingAI:    "等待确认 AI 评审",
	PhaseReviewing:     "正在进行 AI 评审",
	PhaseFinalizing:    "正在生成年度报告",
	PhaseDone:          "分析完成",
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishProgress 发布进度消息
func (p *Publisher) PublishProgress(ctx context.Context, msg *ProgressMessage) error {
	msg.Type = "run_progress"

	// 自动填充进度和消息
	if msg.Progress == 0 && msg.Phase != "" {
		if progress, ok := PhaseProgress[msg.Phase]; ok {
			msg.Progress = progress
		}
	}
	if msg.Message == "" && msg.Phase != "" {
		if message, ok := PhaseMessages[msg.Phase]; ok {
			msg.Message = message
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal progress message: %w", err)
	}

	return p.client.Publish(ctx, ChannelRunProgress, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅进度消息
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*ProgressMessage)) error {
	pubsub := s.client.Subscribe(ctx, ChannelRunProgress)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var progressMsg ProgressMessage
			if err := json.Unmarshal([]byte(msg.Payload), &progressMsg); err != nil {
				continue // 忽略解析错误
			}

			handler(&progressMsg)
		}
	}
}
