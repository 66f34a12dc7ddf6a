package amqp

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sirupsen/logrus"
	"github.com/trustbroker/trustbroker/pkg/config"
	"github.com/trustbroker/trustbroker/pkg/engines/eventbus"
)

func Register() {
	eventbus.RegisterEventBusEngine(config.AMQP, func(conf config.EventBusEngine, serviceID string, logger *logrus.Entry) (eventbus.EventBusEngine, error) {
		return NewAmqpEngine(conf.Amqp, serviceID, logger)
	})
}

type AmqpEngine struct {
	logger     *logrus.Entry
	config     config.AMQPConnection
	serviceID  string
	subscriber message.Subscriber
	publisher  message.Publisher
}

func NewAmqpEngine(conf config.AMQPConnection, serviceID string, logger *logrus.Entry) (eventbus.EventBusEngine, error) {
	return &AmqpEngine{
		logger:    logger,
		config:    conf,
		serviceID: serviceID,
	}, nil
}

func (e *AmqpEngine) Subscriber() (message.Subscriber, error) {
	if e.subscriber == nil {
		subscriber, err := NewAMQPSub(e.config, e.serviceID, e.logger)
		if err != nil {
			e.logger.Errorf("could not generate Event Bus Subscriber: %s", err)
			return nil, err
		}
		e.subscriber = subscriber
	}

	return e.subscriber, nil
}

func (e *AmqpEngine) Publisher() (message.Publisher, error) {
	if e.publisher == nil {
		publisher, err := NewAMQPPub(e.config, e.serviceID, e.logger)
		if err != nil {
			e.logger.Errorf("could not generate Event Bus Publisher: %s", err)
			return nil, err
		}
		e.publisher = publisher
	}

	return e.publisher, nil
}
