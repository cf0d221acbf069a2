package events

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "GrinderAI-Chain/internal/errors"
)

// RabbitMQConfig 描述 RabbitMQ 发布器的连接参数。
type RabbitMQConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	Durable    bool
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQPublisher 将事件发布到 topic exchange，路由键为 "<routing_key>.<kind>"。
type RabbitMQPublisher struct {
	conn       *amqp.Connection
	ch         amqpChannel
	exchange   string
	routingKey string
	durable    bool
}

// NewRabbitMQPublisher 建立连接并声明 exchange。
func NewRabbitMQPublisher(cfg RabbitMQConfig) (*RabbitMQPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	pub := newRabbitMQPublisher(ch, cfg)
	if err := ch.ExchangeDeclare(pub.exchange, amqp.ExchangeTopic, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ exchange 失败: %w", err)
	}
	pub.conn = conn
	return pub, nil
}

func newRabbitMQPublisher(ch amqpChannel, cfg RabbitMQConfig) *RabbitMQPublisher {
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "grinder.events"
	}
	routingKey := cfg.RoutingKey
	if routingKey == "" {
		routingKey = "grind.cycle"
	}
	return &RabbitMQPublisher{ch: ch, exchange: exchange, routingKey: routingKey, durable: cfg.Durable}
}

// RoutingKeyFor 返回指定事件类型的路由键。
func (p *RabbitMQPublisher) RoutingKeyFor(kind Kind) string {
	return p.routingKey + "." + string(kind)
}

// Publish 将事件发布到 RabbitMQ。
func (p *RabbitMQPublisher) Publish(ctx context.Context, evt Event) error {
	if p == nil || p.ch == nil {
		return errors.New("RabbitMQ 发布器未初始化")
	}
	body, err := encode(evt)
	if err != nil {
		return err
	}
	mode := amqp.Transient
	if p.durable {
		mode = amqp.Persistent
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: mode,
		MessageId:    evt.ID,
		Timestamp:    evt.OccurredAt,
		Type:         string(evt.Kind),
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, p.RoutingKeyFor(evt.Kind), false, false, msg); err != nil {
		return xerrors.Wrap(CodePublishFailed, err, "RabbitMQ 发布事件失败",
			xerrors.WithMetadata("event_id", evt.ID), xerrors.WithMetadata("exchange", p.exchange))
	}
	return nil
}

// Close 关闭 RabbitMQ 连接。
func (p *RabbitMQPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
