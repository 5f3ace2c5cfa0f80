package trigger_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notification-trigger/internal/pipeline"
	"github.com/tinywideclouds/go-notification-trigger/internal/trigger"
	"github.com/tinywideclouds/go-notification-trigger/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Send(ctx context.Context, msg dispatch.PushMessage) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

type mockTriggerStore struct {
	mock.Mock
}

func (m *mockTriggerStore) Get(ctx context.Context, id string) (*dispatch.TriggerRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispatch.TriggerRecord), args.Error(1)
}

func (m *mockTriggerStore) MarkProcessed(ctx context.Context, id string, outcome dispatch.Outcome) error {
	return m.Called(ctx, id, outcome).Error(0)
}

type mockUserStore struct {
	mock.Mock
}

func (m *mockUserStore) InvalidateToken(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

type mockClaimer struct {
	mock.Mock
}

func (m *mockClaimer) Claim(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

type fixture struct {
	gateway  *mockGateway
	triggers *mockTriggerStore
	users    *mockUserStore
}

func newFixture() *fixture {
	return &fixture{
		gateway:  new(mockGateway),
		triggers: new(mockTriggerStore),
		users:    new(mockUserStore),
	}
}

func (f *fixture) dispatcher(opts ...trigger.Option) *trigger.Dispatcher {
	return trigger.NewDispatcher(f.gateway, f.triggers, f.users, dispatch.DefaultDeliveryHints(), newTestLogger(), opts...)
}

func (f *fixture) assertAll(t *testing.T) {
	t.Helper()
	f.gateway.AssertExpectations(t)
	f.triggers.AssertExpectations(t)
	f.users.AssertExpectations(t)
}

func newRecord(token string, data map[string]string) *dispatch.TriggerRecord {
	return &dispatch.TriggerRecord{
		ID:       "trigger-1",
		FCMToken: token,
		Title:    "Attendance",
		Body:     "You were marked present",
		Data:     data,
	}
}

// --- Tests ---

func TestDispatch_IdempotencyGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("Processed record makes no external calls", func(t *testing.T) {
		f := newFixture()
		success := true
		record := newRecord("token-abc", map[string]string{"userId": "u1"})
		record.Processed = true
		record.Success = &success

		claimer := new(mockClaimer)
		result := f.dispatcher(trigger.WithClaimer(claimer)).Dispatch(ctx, record)

		assert.True(t, result.Skipped)
		assert.True(t, result.Success)
		f.gateway.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
		f.triggers.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything)
		f.users.AssertNotCalled(t, "InvalidateToken", mock.Anything, mock.Anything)
		claimer.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything)
	})

	t.Run("Second invocation after commit is a no-op", func(t *testing.T) {
		f := newFixture()
		unprocessed := newRecord("token-abc", nil)
		success := true
		committed := *unprocessed
		committed.Processed = true
		committed.Success = &success

		f.triggers.On("Get", ctx, "trigger-1").Return(unprocessed, nil).Once()
		f.triggers.On("Get", ctx, "trigger-1").Return(&committed, nil).Once()
		f.gateway.On("Send", ctx, mock.Anything).Return("msg-123", nil).Once()
		f.triggers.On("MarkProcessed", ctx, "trigger-1", dispatch.Outcome{Success: true, StampProcessedAt: true}).Return(nil).Once()

		d := f.dispatcher()
		first, err := d.DispatchByID(ctx, "trigger-1")
		require.NoError(t, err)
		second, err := d.DispatchByID(ctx, "trigger-1")
		require.NoError(t, err)

		assert.Equal(t, dispatch.Result{Success: true, MessageID: "msg-123"}, first)
		assert.True(t, second.Skipped)
		f.gateway.AssertNumberOfCalls(t, "Send", 1)
		f.triggers.AssertNumberOfCalls(t, "MarkProcessed", 1)
	})
}

func TestDispatch_MissingToken(t *testing.T) {
	ctx := context.Background()
	want := dispatch.Outcome{Success: false, Error: "No FCM token provided"}

	t.Run("Empty token marks failure without sending", func(t *testing.T) {
		f := newFixture()
		f.triggers.On("MarkProcessed", ctx, "trigger-1", want).Return(nil)

		result := f.dispatcher().Dispatch(ctx, newRecord("", nil))

		assert.Equal(t, dispatch.Result{Success: false, Error: "No FCM token provided"}, result)
		f.gateway.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
		f.assertAll(t)
	})

	t.Run("Settle failure still returns structured result", func(t *testing.T) {
		f := newFixture()
		f.triggers.On("MarkProcessed", ctx, "trigger-1", want).Return(errors.New("firestore down"))

		result := f.dispatcher().Dispatch(ctx, newRecord("", nil))

		assert.False(t, result.Success)
		assert.Equal(t, "No FCM token provided", result.Error)
	})
}

func TestDispatch_Success(t *testing.T) {
	ctx := context.Background()

	t.Run("Builds message with hints and marks success", func(t *testing.T) {
		f := newFixture()
		data := map[string]string{"userId": "u1", "classId": "c9"}

		f.gateway.On("Send", ctx, mock.MatchedBy(func(m dispatch.PushMessage) bool {
			return m.Token == "token-abc" &&
				m.Title == "Attendance" &&
				m.Body == "You were marked present" &&
				m.Data["classId"] == "c9" &&
				m.Hints == dispatch.DefaultDeliveryHints()
		})).Return("msg-123", nil)
		f.triggers.On("MarkProcessed", ctx, "trigger-1", dispatch.Outcome{Success: true, StampProcessedAt: true}).Return(nil)

		result := f.dispatcher().Dispatch(ctx, newRecord("token-abc", data))

		assert.Equal(t, dispatch.Result{Success: true, MessageID: "msg-123"}, result)
		f.assertAll(t)
	})

	t.Run("Absent data defaults to empty map", func(t *testing.T) {
		f := newFixture()
		f.gateway.On("Send", ctx, mock.MatchedBy(func(m dispatch.PushMessage) bool {
			return m.Data != nil && len(m.Data) == 0
		})).Return("msg-1", nil)
		f.triggers.On("MarkProcessed", ctx, "trigger-1", mock.Anything).Return(nil)

		result := f.dispatcher().Dispatch(ctx, newRecord("token-abc", nil))

		assert.True(t, result.Success)
		f.assertAll(t)
	})

	t.Run("Settle failure after send keeps success result", func(t *testing.T) {
		f := newFixture()
		f.gateway.On("Send", ctx, mock.Anything).Return("msg-123", nil)
		f.triggers.On("MarkProcessed", ctx, "trigger-1", mock.Anything).Return(errors.New("deadline exceeded"))

		result := f.dispatcher().Dispatch(ctx, newRecord("token-abc", nil))

		assert.Equal(t, dispatch.Result{Success: true, MessageID: "msg-123"}, result)
	})
}

func TestDispatch_FailureClassification(t *testing.T) {
	ctx := context.Background()
	invalidOutcome := dispatch.Outcome{
		Success:          false,
		Error:            "Invalid or unregistered FCM token",
		StampProcessedAt: true,
	}

	permanent := []struct {
		name string
		kind dispatch.ErrorKind
	}{
		{"registration-token-not-registered", dispatch.KindUnregistered},
		{"invalid-registration-token", dispatch.KindInvalidToken},
	}
	for _, tc := range permanent {
		t.Run("Permanent "+tc.name+" purges user token", func(t *testing.T) {
			f := newFixture()
			sendErr := dispatch.NewSendError(tc.kind, tc.name, errors.New("requested entity was not found"))
			f.gateway.On("Send", ctx, mock.Anything).Return("", sendErr)
			f.triggers.On("MarkProcessed", ctx, "trigger-1", invalidOutcome).Return(nil)
			f.users.On("InvalidateToken", ctx, "u1").Return(nil)

			result := f.dispatcher().Dispatch(ctx, newRecord("token-abc", map[string]string{"userId": "u1"}))

			assert.Equal(t, dispatch.Result{Success: false, Error: "Invalid or unregistered FCM token"}, result)
			f.assertAll(t)
		})
	}

	t.Run("Permanent failure without userId skips cleanup", func(t *testing.T) {
		f := newFixture()
		f.gateway.On("Send", ctx, mock.Anything).Return("", dispatch.NewSendError(dispatch.KindUnregistered, "", errors.New("gone")))
		f.triggers.On("MarkProcessed", ctx, "trigger-1", invalidOutcome).Return(nil)

		result := f.dispatcher().Dispatch(ctx, newRecord("token-abc", map[string]string{"other": "x"}))

		assert.False(t, result.Success)
		f.users.AssertNotCalled(t, "InvalidateToken", mock.Anything, mock.Anything)
	})

	t.Run("Transient failure records raw message and keeps token", func(t *testing.T) {
		f := newFixture()
		raw := "messaging/quota-exceeded: sending quota exceeded"
		f.gateway.On("Send", ctx, mock.Anything).Return("", dispatch.NewSendError(dispatch.KindQuotaExceeded, "messaging/quota-exceeded", errors.New(raw)))
		f.triggers.On("MarkProcessed", ctx, "trigger-1", dispatch.Outcome{
			Success:          false,
			Error:            raw,
			StampProcessedAt: true,
		}).Return(nil)

		result := f.dispatcher().Dispatch(ctx, newRecord("token-abc", map[string]string{"userId": "u1"}))

		assert.Equal(t, dispatch.Result{Success: false, Error: raw}, result)
		f.users.AssertNotCalled(t, "InvalidateToken", mock.Anything, mock.Anything)
		f.assertAll(t)
	})

	t.Run("Untyped gateway error is treated as unknown", func(t *testing.T) {
		f := newFixture()
		f.gateway.On("Send", ctx, mock.Anything).Return("", fmt.Errorf("dial tcp: connection refused"))
		f.triggers.On("MarkProcessed", ctx, "trigger-1", mock.Anything).Return(nil)

		result := f.dispatcher().Dispatch(ctx, newRecord("token-abc", map[string]string{"userId": "u1"}))

		assert.Equal(t, "dial tcp: connection refused", result.Error)
		f.users.AssertNotCalled(t, "InvalidateToken", mock.Anything, mock.Anything)
	})

	t.Run("Cleanup failure does not change result", func(t *testing.T) {
		f := newFixture()
		f.gateway.On("Send", ctx, mock.Anything).Return("", dispatch.NewSendError(dispatch.KindUnregistered, "", errors.New("gone")))
		f.triggers.On("MarkProcessed", ctx, "trigger-1", invalidOutcome).Return(nil)
		f.users.On("InvalidateToken", ctx, "u1").Return(errors.New("user not found"))

		result := f.dispatcher().Dispatch(ctx, newRecord("token-abc", map[string]string{"userId": "u1"}))

		assert.Equal(t, dispatch.Result{Success: false, Error: "Invalid or unregistered FCM token"}, result)
		f.assertAll(t)
	})
}

func TestDispatch_Claimer(t *testing.T) {
	ctx := context.Background()

	t.Run("Lease held elsewhere defers send", func(t *testing.T) {
		f := newFixture()
		claimer := new(mockClaimer)
		claimer.On("Claim", ctx, "trigger-1").Return(false, nil)

		result := f.dispatcher(trigger.WithClaimer(claimer)).Dispatch(ctx, newRecord("token-abc", nil))

		assert.Equal(t, dispatch.Result{Contended: true}, result)
		assert.False(t, result.Skipped)
		f.gateway.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
		f.triggers.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Leased unprocessed trigger is not acked by the pipeline", func(t *testing.T) {
		f := newFixture()
		claimer := new(mockClaimer)
		claimer.On("Claim", mock.Anything, "trigger-1").Return(false, nil)
		f.triggers.On("Get", mock.Anything, "trigger-1").Return(newRecord("token-abc", nil), nil)

		processor := pipeline.NewProcessor(f.dispatcher(trigger.WithClaimer(claimer)), newTestLogger())
		err := processor(ctx, messagepipeline.Message{}, &pipeline.TriggerEvent{TriggerID: "trigger-1"})

		assert.ErrorIs(t, err, dispatch.ErrTriggerContended)
		f.gateway.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
		f.triggers.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Claim error falls back to sending", func(t *testing.T) {
		f := newFixture()
		claimer := new(mockClaimer)
		claimer.On("Claim", ctx, "trigger-1").Return(false, errors.New("redis down"))
		f.gateway.On("Send", ctx, mock.Anything).Return("msg-9", nil)
		f.triggers.On("MarkProcessed", ctx, "trigger-1", mock.Anything).Return(nil)

		result := f.dispatcher(trigger.WithClaimer(claimer)).Dispatch(ctx, newRecord("token-abc", nil))

		assert.Equal(t, "msg-9", result.MessageID)
		f.assertAll(t)
	})
}

func TestDispatchByID_LoadErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.triggers.On("Get", ctx, "missing").Return(nil, dispatch.ErrTriggerNotFound)

	_, err := f.dispatcher().DispatchByID(ctx, "missing")

	require.Error(t, err)
	assert.ErrorIs(t, err, dispatch.ErrTriggerNotFound)
	f.gateway.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}
