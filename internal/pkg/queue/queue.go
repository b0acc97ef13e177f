package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Queue struct {
	client    *redis.Client
	queueName string
}

// RunMessage 分析任务消息
type RunMessage struct {
	RunID    int64  `json:"run_id"`
	Org      string `json:"org"`
	Username string `json:"username"`
	Year     int    `json:"year"`
	Mode     string `json:"mode"` // resume / retry / full_restart，首次运行为 resume
}

func NewQueue(client *redis.Client, queueName string) *Queue {
	return &Queue{
		client:    client,
		queueName: queueName,
	}
}

// Push 将任务加入队列
func (q *Queue) Push(ctx context.Context, msg *RunMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return q.client.LPush(ctx, q.queueName, data).Err()
}

// Pop 从队列获取任务（阻塞）
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*RunMessage, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // 超时，无任务
		}
		return nil, fmt.Errorf("failed to pop from queue: %w", err)
	}

	if len(result) < 2 {
		return nil, nil
	}

	var msg RunMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	return &msg, nil
}

// Length 获取队列长度
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}

// cancelKey 取消标记的 redis key
func cancelKey(runID int64) string {
	return fmt.Sprintf("run_cancel:%d", runID)
}

// RequestCancel 标记取消。worker 在工作单元边界检查，属协作式取消。
func (q *Queue) RequestCancel(ctx context.Context, runID int64) error {
	return q.client.Set(ctx, cancelKey(runID), "1", 24*time.Hour).Err()
}

// IsCancelRequested 是否已请求取消
func (q *Queue) IsCancelRequested(ctx context.Context, runID int64) bool {
	val, err := q.client.Get(ctx, cancelKey(runID)).Result()
	return err == nil && val == "1"
}

// ClearCancel 任务结束或重新入队时清除标记
func (q *Queue) ClearCancel(ctx context.Context, runID int64) error {
	return q.client.Del(ctx, cancelKey(runID)).Err()
}
