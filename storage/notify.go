package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"journal-api/domain"
)

// RedisNotifier publishes changes on a Redis pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Publish(ctx context.Context, ch domain.Change) error {
	data, err := sonic.Marshal(ch)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, data).Err()
}

// SubscribeChanges forwards changes published on channel to handle until ctx
// is done, resubscribing when the subscription drops.
func SubscribeChanges(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, handle func(domain.Change)) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var change domain.Change
				if err := sonic.UnmarshalString(msg.Payload, &change); err != nil {
					logger.Errorf("unable to parse change: %v", err)
					continue
				}
				handle(change)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// QueueNotifier enqueues changes to an Azure Storage queue as a change feed.
type QueueNotifier struct {
	queue *azqueue.QueueClient
}

func NewQueueNotifier(connStr, queueName string) (*QueueNotifier, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &QueueNotifier{queue: q}, nil
}

func (n *QueueNotifier) Publish(ctx context.Context, ch domain.Change) error {
	data, err := sonic.MarshalString(ch)
	if err != nil {
		return err
	}
	_, err = n.queue.EnqueueMessage(ctx, data, nil)
	return err
}

// MultiNotifier publishes to every notifier and joins their errors.
type MultiNotifier []domain.Notifier

func (m MultiNotifier) Publish(ctx context.Context, ch domain.Change) error {
	var errs []error
	for _, n := range m {
		if err := n.Publish(ctx, ch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
