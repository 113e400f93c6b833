package tiling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ImageSummary is the completion event published for every processed image
type ImageSummary struct {
	Index       int    `json:"index"`
	RunID       string `json:"runId"`
	Source      string `json:"source"`
	Rows        int    `json:"rows"`
	Cols        int    `json:"cols"`
	Factor      int    `json:"factor"`
	ClassCounts []int  `json:"classCounts"`
	Timestamp   int64  `json:"timestamp"`
}

// NewImageSummary summarises a result for classN classes
func NewImageSummary(r *Result, classN int) *ImageSummary {
	return &ImageSummary{
		Index:       r.Index,
		RunID:       r.RunID,
		Source:      r.Source,
		Rows:        r.Grid.Rows,
		Cols:        r.Grid.Cols,
		Factor:      r.Factor,
		ClassCounts: ClassCounts(r.Grid, classN),
		Timestamp:   time.Now().Unix(),
	}
}

// Publisher publishes completion events to MQTT. It implements Sink.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	classN        int
	qos           byte
	retain        bool
	logger        *zap.Logger

	mu     sync.RWMutex
	latest *ImageSummary
}

// NewPublisher creates a publisher for classN classes. If client is nil every
// Save fails.
func NewPublisher(client mqtt.Client, prefix string, classN int, logger *zap.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		classN:        classN,
		qos:           1,
		retain:        true,
		logger:        orNop(logger),
	}
}

// Save implements Sink. It publishes to {prefix}/images/{index} and then
// {prefix}/latest.
func (p *Publisher) Save(_ context.Context, r *Result) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	if r.Grid == nil {
		return fmt.Errorf("publishing image %d: result has no grid", r.Index)
	}

	summary := NewImageSummary(r, p.classN)
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}

	if err := p.publish(fmt.Sprintf("%s/images/%d", p.publishPrefix, r.Index), payload); err != nil {
		return err
	}
	if err := p.publish(p.publishPrefix+"/latest", payload); err != nil {
		return err
	}

	p.mu.Lock()
	p.latest = summary
	p.mu.Unlock()

	p.logger.Info("published image summary",
		zap.Int("index", r.Index),
		zap.String("source", r.Source),
		zap.Ints("classCounts", summary.ClassCounts))
	return nil
}

func (p *Publisher) publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publishing to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Latest returns the last published summary
func (p *Publisher) Latest() (*ImageSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return nil, false
	}
	s := *p.latest
	return &s, true
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
