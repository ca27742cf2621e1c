package collab

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/IBM/sarama"
)

// 活动/审计事件类型
const (
	EventOpApplied       = "OP_APPLIED"
	EventParticipantJoin = "PARTICIPANT_JOINED"
	EventParticipantLeft = "PARTICIPANT_LEFT"
	EventCommentAdded    = "COMMENT_ADDED"
	EventThreadStatus    = "THREAD_STATUS"
	EventVersionCreated  = "VERSION_CREATED"
	EventVersionRestored = "VERSION_RESTORED"
	EventMention         = "MENTION"
	EventDocArchived     = "DOCUMENT_ARCHIVED"
)

// ActivityEvent 全局 append-only 活动日志的一条记录，
// 同时作为 kafka 事件体（按 docId 做 key，便于按文档分区）。
type ActivityEvent struct {
	EventType   string          `json:"eventType"`
	DocID       string          `json:"docId"`
	ActorID     uint64          `json:"actorId"`
	SessionID   string          `json:"sessionId,omitempty"`
	OperationID string          `json:"operationId,omitempty"`
	Version     uint64          `json:"version,omitempty"`
	Detail      json.RawMessage `json:"detail,omitempty"`
	At          time.Time       `json:"at"`
}

// EventSink 状态变更动作的异步记录入口。
// 投递失败不影响动作本身的结果。
type EventSink interface {
	Enqueue(ctx context.Context, evt ActivityEvent) error
}

// ActivityStore 活动日志的持久化落地（append-only）
type ActivityStore interface {
	AppendActivity(ctx context.Context, evt ActivityEvent) error
}

// EventDispatcher：本地有界队列 + worker 异步发送 + 有限重试。
// 目标：
// - 不阻塞主提交流程（Enqueue 只负责入队）
// - kafka 短暂阻塞时靠队列吸收，后台慢慢补发
// - 队列满时允许降级（丢弃），避免内存无限增长
// 每条事件先落活动日志存储，再发 kafka；两路都尽力而为。
type EventDispatcher struct {
	producer sarama.SyncProducer
	topic    string
	store    ActivityStore

	queue chan ActivityEvent

	// sem 限制并发的 SendMessage 数量
	sem *SemaphoreControl

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

type EventDispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewEventDispatcher(producer sarama.SyncProducer, topic string, store ActivityStore, sem *SemaphoreControl, opt EventDispatcherOptions) *EventDispatcher {
	d := &EventDispatcher{
		producer:    producer,
		topic:       topic,
		store:       store,
		queue:       make(chan ActivityEvent, opt.QueueSize),
		sem:         sem,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}

	d.Start()
	return d
}

// Enqueue：把事件放入本地队列。
// - 队列满时，等待直到 ctx 超时
// - 审计流不要求每条必达，超时返回错误由调用方记日志
func (d *EventDispatcher) Enqueue(ctx context.Context, evt ActivityEvent) error {
	select {
	case d.queue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *EventDispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		go d.workerLoop(i)
	}
}

func (d *EventDispatcher) workerLoop(workerID int) {
	for evt := range d.queue {
		if d.store != nil {
			if err := d.store.AppendActivity(context.Background(), evt); err != nil {
				log.Printf("activity append failed doc=%s type=%s err=%v", evt.DocID, evt.EventType, err)
			}
		}
		d.sendWithRetry(workerID, evt)
	}
}

func (d *EventDispatcher) sendWithRetry(workerID int, evt ActivityEvent) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		if d.sem != nil {
			// worker 允许一直等待（不影响主链路）
			_ = d.sem.Acquire(context.Background())
		}

		err := d.sendOnce(evt)

		if d.sem != nil {
			_ = d.sem.Release()
		}

		if err == nil {
			return
		}

		if attempt == d.maxRetry {
			log.Printf("kafka send failed, drop event doc=%s type=%s ver=%d worker=%d err=%v",
				evt.DocID, evt.EventType, evt.Version, workerID, err)
			return
		}

		// 退避，每次退避时间 X2
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *EventDispatcher) sendOnce(evt ActivityEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(evt.DocID),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}
