package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// publisher はamqp.Channelのうち送信に必要な部分。テストで差し替える。
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPNotifier はイベントをRabbitMQのtopic exchangeへ送信する送信先。
// ルーティングキーは "<prefix>.<イベント種別>"（例: reservation.created）。
type AMQPNotifier struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       publisher
	exchange string
	prefix   string
}

// DialAMQP はRabbitMQへ接続し、exchangeを宣言してAMQPNotifierを返す。
func DialAMQP(url, exchange, routingPrefix string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("RabbitMQへの接続に失敗しました: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("チャネルのオープンに失敗しました: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("exchangeの宣言に失敗しました: %w", err)
	}

	n := NewAMQPNotifier(ch, exchange, routingPrefix)
	n.conn = conn
	return n, nil
}

// NewAMQPNotifier は既存のチャネルからAMQPNotifierを生成する。
func NewAMQPNotifier(ch publisher, exchange, routingPrefix string) *AMQPNotifier {
	return &AMQPNotifier{ch: ch, exchange: exchange, prefix: routingPrefix}
}

// Name は送信先名を返す。
func (n *AMQPNotifier) Name() string { return "amqp" }

// RoutingKey はイベント種別に対応するルーティングキーを返す。
func (n *AMQPNotifier) RoutingKey(t EventType) string {
	return n.prefix + "." + string(t)
}

// Notify はイベントを永続メッセージとして送信する。
func (n *AMQPNotifier) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("イベントのシリアライズに失敗しました: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	err = n.ch.PublishWithContext(ctx,
		n.exchange,
		n.RoutingKey(ev.Type),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.ID,
			Timestamp:    ev.OccurredAt,
			Type:         string(ev.Type),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("メッセージの送信に失敗しました: %w", err)
	}
	return nil
}

// Close はチャネルと接続を閉じる。
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	var firstErr error
	if n.ch != nil {
		firstErr = n.ch.Close()
	}
	if n.conn != nil {
		if err := n.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
