package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civis/internal/audit"
	"civis/internal/audit/store/memory"
)

func TestPublisher_EmitAndDrain(t *testing.T) {
	pub := audit.NewPublisher(audit.WithBuffer(16))
	sink := memory.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx, sink) }()

	pub.Emit(ctx, audit.Event{UserID: "u1", Action: audit.ActionLoginSubmit, Outcome: audit.OutcomeSuccess})
	pub.Emit(ctx, audit.Event{UserID: "u1", Action: audit.ActionOTPVerified, Outcome: audit.OutcomeSuccess})

	assert.Eventually(t, func() bool {
		return len(sink.All()) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)

	events, listErr := sink.ListByUser(context.Background(), "u1")
	require.NoError(t, listErr)
	require.Len(t, events, 2)
	assert.Equal(t, audit.ActionLoginSubmit, events[0].Action)
	assert.False(t, events[0].Timestamp.IsZero(), "emit stamps the event")
}

func TestPublisher_ShutdownFlushes(t *testing.T) {
	pub := audit.NewPublisher(audit.WithBuffer(16))
	sink := memory.New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pub.Emit(context.Background(), audit.Event{UserID: "u1", Action: audit.ActionLogout})
	pub.Emit(context.Background(), audit.Event{UserID: "u1", Action: audit.ActionTokenRefreshed})

	_ = pub.Run(ctx, sink)
	assert.Len(t, sink.All(), 2)
}

func TestPublisher_FullInboxDropsOldest(t *testing.T) {
	pub := audit.NewPublisher(audit.WithBuffer(2))
	sink := memory.New()
	ctx := context.Background()

	pub.Emit(ctx, audit.Event{UserID: "u1", Action: audit.ActionRegister})
	pub.Emit(ctx, audit.Event{UserID: "u1", Action: audit.ActionLoginSubmit})
	// Inbox is full; the oldest event makes room for this one.
	pub.Emit(ctx, audit.Event{UserID: "u1", Action: audit.ActionOTPVerified})

	runCtx, cancel := context.WithCancel(ctx)
	cancel()
	_ = pub.Run(runCtx, sink)

	events := sink.All()
	require.Len(t, events, 2)
	assert.Equal(t, audit.ActionLoginSubmit, events[0].Action)
	assert.Equal(t, audit.ActionOTPVerified, events[1].Action)
}
