package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) *redis.Client {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPublishSubscribe(t *testing.T) {
	client := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *ProgressMessage, 1)
	sub := NewSubscriber(client)
	go func() {
		_ = sub.Subscribe(ctx, func(msg *ProgressMessage) {
			received <- msg
		})
	}()
	// 等订阅建立
	time.Sleep(100 * time.Millisecond)

	pub := NewPublisher(client)
	err := pub.PublishProgress(ctx, &ProgressMessage{
		RunID:  7,
		Status: "scanning_commits",
		Phase:  PhaseScanning,
	})
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "run_progress", msg.Type)
		assert.Equal(t, int64(7), msg.RunID)
		// 进度和文案按阶段自动填充
		assert.Equal(t, 35, msg.Progress)
		assert.Equal(t, "正在扫描提交记录", msg.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("progress message not received")
	}
}

func TestPublishProgress_ExplicitFieldsKept(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	pub := NewPublisher(client)
	msg := &ProgressMessage{
		RunID:    7,
		Phase:    PhaseScanning,
		Progress: 42,
		Message:  "已扫描 3/10 个仓库",
	}
	require.NoError(t, pub.PublishProgress(ctx, msg))

	// 显式给出的进度和文案不被阶段默认值覆盖
	assert.Equal(t, 42, msg.Progress)
	assert.Equal(t, "已扫描 3/10 个仓库", msg.Message)
}

func TestPhaseTables(t *testing.T) {
	for phase := range PhaseProgress {
		_, ok := PhaseMessages[phase]
		assert.True(t, ok, "phase %s missing message", phase)
	}
	assert.Equal(t, 100, PhaseProgress[PhaseDone])
}
