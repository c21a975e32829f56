// Package kafka carries work requests to Kafka-backed providers and ingests
// worker callbacks published to a Kafka topic.
package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
)

// ClientConfig contains all configuration needed for Kafka client setup.
type ClientConfig struct {
	Brokers  []string
	GroupID  string
	ClientID string
	// CallbackTopic is consumed for worker callbacks. Empty disables
	// Kafka callback ingestion.
	CallbackTopic string
}

// NewClient creates and configures a Kafka client with the provided settings.
// It sets up consistent configuration for both producers and consumers.
func NewClient(cfg *ClientConfig) (sarama.Client, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID

	// Consumer settings
	config.Consumer.Return.Errors = true
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Session.Timeout = 20 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	config.Consumer.Group.Member.UserData = []byte(cfg.ClientID)
	// Offsets are committed only once a callback has been handled.
	config.Consumer.Offsets.AutoCommit.Enable = false

	// Producer settings
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	// Version should be consistent across all components
	config.Version = sarama.V3_6_0_0

	return sarama.NewClient(cfg.Brokers, config)
}

// Connection bundles the producer and consumer group built on one client.
type Connection struct {
	Client        sarama.Client
	Producer      sarama.SyncProducer
	ConsumerGroup sarama.ConsumerGroup
}

// Close releases the producer, the consumer group and the client.
func (c *Connection) Close() error {
	var firstErr error
	for _, closeFn := range []func() error{c.Producer.Close, c.ConsumerGroup.Close, c.Client.Close} {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ConnectWithRetry establishes a client, producer and consumer group with
// exponential backoff. It retries for up to 5 minutes, starting with 5 second
// intervals, so startup survives a Kafka cluster that is still coming up.
func ConnectWithRetry(cfg *ClientConfig) (*Connection, error) {
	var conn *Connection

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		client, err := NewClient(cfg)
		if err != nil {
			return fmt.Errorf("creating client: %w", err)
		}

		producer, err := sarama.NewSyncProducerFromClient(client)
		if err != nil {
			client.Close()
			return fmt.Errorf("creating producer: %w", err)
		}

		consumerGroup, err := sarama.NewConsumerGroupFromClient(cfg.GroupID, client)
		if err != nil {
			producer.Close() // Clean up on failure
			client.Close()
			return fmt.Errorf("creating consumer group: %w", err)
		}

		conn = &Connection{Client: client, Producer: producer, ConsumerGroup: consumerGroup}
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after retries: %w", err)
	}
	return conn, nil
}
