package amqp

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill-amqp/v2/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sirupsen/logrus"
	"github.com/trustbroker/trustbroker/pkg/config"
	"github.com/trustbroker/trustbroker/pkg/engines/eventbus"
)

func amqpConfig(conf config.AMQPConnection, serviceID string, logger *logrus.Entry) (*amqp.Config, error) {
	userPassUrlPrefix := ""
	if conf.BasicAuth {
		logger.Debugf("basic auth enabled")
		userPassUrlPrefix = fmt.Sprintf("%s:%s@", url.PathEscape(conf.Username), url.PathEscape(conf.Password))
	}

	amqpURL := fmt.Sprintf("%s://%s%s:%d", conf.Protocol, userPassUrlPrefix, conf.Hostname, conf.Port)

	amqpConfig := amqp.NewDurablePubSubConfig(amqpURL, amqp.GenerateQueueNameTopicNameWithSuffix(serviceID))

	amqpConfig.Exchange = amqp.ExchangeConfig{
		GenerateName: func(topic string) string {
			if conf.Exchange != "" {
				return conf.Exchange
			}
			return "trustbroker-events"
		},
		Type:    "topic",
		Durable: true,
	}

	amqpConfig.QueueBind = amqp.QueueBindConfig{
		GenerateRoutingKey: func(topic string) string {
			suf := fmt.Sprintf("_%s", serviceID)
			if strings.Contains(topic, suf) {
				return strings.ReplaceAll(topic, suf, "")
			}
			return topic
		},
	}

	amqpConfig.Publish = amqp.PublishConfig{
		GenerateRoutingKey: func(topic string) string {
			return topic
		},
	}

	return &amqpConfig, nil
}

func NewAMQPPub(conf config.AMQPConnection, serviceID string, logger *logrus.Entry) (message.Publisher, error) {
	amqpConfig, err := amqpConfig(conf, serviceID, logger)
	if err != nil {
		return nil, err
	}

	lEventBusPub := eventbus.NewLoggerAdapter(logger.WithField("subsystem-provider", "AMQP - Publisher"))

	publisher, err := amqp.NewPublisher(*amqpConfig, lEventBusPub)
	if err != nil {
		return nil, fmt.Errorf("could not create publisher: %s", err)
	}

	return publisher, nil
}

func NewAMQPSub(conf config.AMQPConnection, serviceID string, logger *logrus.Entry) (message.Subscriber, error) {
	amqpConfig, err := amqpConfig(conf, serviceID, logger)
	if err != nil {
		return nil, err
	}

	lEventBusSub := eventbus.NewLoggerAdapter(logger.WithField("subsystem-provider", "AMQP - Subscriber"))
	subscriber, err := amqp.NewSubscriber(*amqpConfig, lEventBusSub)
	if err != nil {
		return nil, fmt.Errorf("could not create subscriber: %s", err)
	}

	return subscriber, nil
}
