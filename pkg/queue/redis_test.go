package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinSignal/pkg/logger"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type labelPayload struct {
	Symbol string `json:"symbol"`
}

func newTestQueue(t *testing.T) (*RedisQueue, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	q := NewRedisQueue(logger.Nop(), QueueConfig{RetryLimit: 1, RetryDelay: time.Minute}, db, WithKeyPrefix("fs:q"))
	q.now = func() time.Time { return t0 }
	q.newID = func() string { return "id-1" }
	return q, mock
}

func TestEnqueue(t *testing.T) {
	q, mock := newTestQueue(t)

	want := mustJSON(Message{ID: "id-1", Type: "label_pending", Payload: json.RawMessage(`{"symbol":"BTC"}`), EnqueuedAt: t0})
	mock.ExpectLPush("fs:q:messages", want).SetVal(1)

	require.NoError(t, q.PublishMessage(context.Background(), "label_pending", labelPayload{Symbol: "BTC"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_Success(t *testing.T) {
	q, mock := newTestQueue(t)
	var got string
	require.NoError(t, q.RegisterJob(JobFunc{JobName: "label", JobType: "label_pending", Fn: func(_ context.Context, p json.RawMessage) error {
		lp, err := ParsePayload[labelPayload](p)
		if err != nil {
			return err
		}
		got = lp.Symbol
		return nil
	}}))

	q.process(context.Background(), Message{ID: "a", Type: "label_pending", Payload: json.RawMessage(`{"symbol":"ETH"}`)})

	assert.Equal(t, "ETH", got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_RetryThenDeadLetter(t *testing.T) {
	q, mock := newTestQueue(t)
	require.NoError(t, q.RegisterJob(JobFunc{JobName: "train", JobType: "train_model", Fn: func(context.Context, json.RawMessage) error {
		return errors.New("db down")
	}}))

	msg := Message{ID: "a", Type: "train_model", Payload: json.RawMessage(`{}`)}
	retried := msg
	retried.Attempts = 1
	retried.LastError = "db down"
	mock.ExpectZAdd("fs:q:retry", redis.Z{Score: float64(t0.Add(time.Minute).Unix()), Member: mustJSON(retried)}).SetVal(1)
	q.process(context.Background(), msg)

	dead := retried
	mock.ExpectLPush("fs:q:dlq", mustJSON(dead)).SetVal(1)
	q.process(context.Background(), retried)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_PermanentSkipsRetry(t *testing.T) {
	q, mock := newTestQueue(t)
	require.NoError(t, q.RegisterJob(JobFunc{JobName: "label", JobType: "label_pending", Fn: func(context.Context, json.RawMessage) error {
		return fmt.Errorf("%w: unknown symbol", ErrPermanent)
	}}))

	msg := Message{ID: "a", Type: "label_pending", Payload: json.RawMessage(`{}`)}
	dead := msg
	dead.LastError = "queue: permanent failure: unknown symbol"
	mock.ExpectLPush("fs:q:dlq", mustJSON(dead)).SetVal(1)
	q.process(context.Background(), msg)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload[labelPayload](json.RawMessage(`{"symbol":"SOL"}`))
	require.NoError(t, err)
	assert.Equal(t, "SOL", p.Symbol)

	_, err = ParsePayload[labelPayload](json.RawMessage(`"nope"`))
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestRegisterJob_Duplicate(t *testing.T) {
	q, _ := newTestQueue(t)
	j := JobFunc{JobName: "x", JobType: "x", Fn: func(context.Context, json.RawMessage) error { return nil }}
	require.NoError(t, q.RegisterJob(j))
	assert.Error(t, q.RegisterJob(j))
}

func TestPromoteDue(t *testing.T) {
	q, mock := newTestQueue(t)
	mock.ExpectZRangeByScore("fs:q:retry", &redis.ZRangeBy{Min: "-inf", Max: "1740823200"}).SetVal([]string{"m1"})
	mock.ExpectZRem("fs:q:retry", "m1").SetVal(1)
	mock.ExpectLPush("fs:q:messages", "m1").SetVal(1)

	require.NoError(t, q.promoteDue(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
