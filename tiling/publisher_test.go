package tiling

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewPublisher(t *testing.T) {
	publisher := NewPublisher(nil, "", 7, nil)
	if publisher == nil {
		t.Fatal("NewPublisher() returned nil")
	}
	if publisher.publishPrefix != "tilemap" {
		t.Errorf("Default prefix = %s, want tilemap", publisher.publishPrefix)
	}
	if publisher.qos != 1 {
		t.Errorf("Default QoS = %d, want 1", publisher.qos)
	}
	if !publisher.retain {
		t.Error("Default retain should be true")
	}
}

func TestPublisher_Save(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	publisher := NewPublisher(client, "slides", 3, zaptest.NewLogger(t))

	res := sampleResult(5, 0, 0, 1, 2, 2, 2, 0, 1, 2)
	require.NoError(t, publisher.Save(context.Background(), res))

	msgs := client.PublishedMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "slides/images/5", msgs[0].Topic)
	assert.Equal(t, "slides/latest", msgs[1].Topic)
	assert.True(t, msgs[0].Retain)

	var summary ImageSummary
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &summary))
	assert.Equal(t, 5, summary.Index)
	assert.Equal(t, res.RunID, summary.RunID)
	assert.Equal(t, "slide.png", summary.Source)
	assert.Equal(t, 3, summary.Rows)
	assert.Equal(t, 3, summary.Cols)
	assert.Equal(t, 3, summary.Factor)
	assert.Equal(t, []int{3, 2, 4}, summary.ClassCounts)
	assert.NotZero(t, summary.Timestamp)

	latest, ok := publisher.Latest()
	require.True(t, ok)
	assert.Equal(t, 5, latest.Index)
}

func TestPublisher_SaveNotConnected(t *testing.T) {
	res := sampleResult(0, 0, 0, 0, 0, 0, 0, 0, 0, 0)

	err := NewPublisher(nil, "", 2, nil).Save(context.Background(), res)
	assert.Error(t, err)

	client := NewMockClient()
	err = NewPublisher(client, "", 2, nil).Save(context.Background(), res)
	assert.Error(t, err)
	assert.Empty(t, client.PublishedMessages())
}

func TestPublisher_SavePublishError(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	client.SetPublishError(errors.New("broker rejected"))

	publisher := NewPublisher(client, "", 2, nil)
	err := publisher.Save(context.Background(), sampleResult(0, 0, 0, 0, 0, 0, 0, 0, 0, 0))
	assert.ErrorContains(t, err, "broker rejected")

	_, ok := publisher.Latest()
	assert.False(t, ok)
}

func TestPublisher_SetQoS(t *testing.T) {
	publisher := NewPublisher(nil, "", 2, nil)
	publisher.SetQoS(2)
	assert.Equal(t, byte(2), publisher.qos)
	publisher.SetQoS(5)
	assert.Equal(t, byte(2), publisher.qos, "invalid QoS ignored")

	publisher.SetRetain(false)
	assert.False(t, publisher.retain)
}
