package service

import (
	"go.uber.org/zap"

	"github.com/recoverylabs/recoveryd/types"
)

// EventType names a protocol state transition.
type EventType string

const (
	EventRecoveryCreated   EventType = "recovery_created"
	EventRecoveryRemoved   EventType = "recovery_removed"
	EventRecoveryInitiated EventType = "recovery_initiated"
	EventRecoveryVouched   EventType = "recovery_vouched"
	EventRecoveryClaimed   EventType = "recovery_claimed"
	EventRecoveryClosed    EventType = "recovery_closed"
	EventProxyCancelled    EventType = "proxy_cancelled"
	EventProxyOverridden   EventType = "proxy_overridden"
)

// Event is a best-effort notification of a committed state transition.
// Account is the configured/lost account the transition concerns; Rescuer
// and Friend are set where the transition involves them, and Amount carries
// the deposit moved, if any.
type Event struct {
	Type    EventType
	Account types.AccountID
	Rescuer *types.AccountID
	Friend  *types.AccountID
	Amount  uint64
}

// EventSink receives events after the transition committed. Sinks must not
// block and cannot fail an operation; correctness never depends on them.
type EventSink interface {
	Emit(ev Event)
}

// ZapEventSink logs events through a zap logger.
type ZapEventSink struct {
	logger *zap.Logger
}

func NewZapEventSink(logger *zap.Logger) *ZapEventSink {
	return &ZapEventSink{logger: logger}
}

func (s *ZapEventSink) Emit(ev Event) {
	fields := []zap.Field{zap.String("account", ev.Account.MarshalHex())}
	if ev.Rescuer != nil {
		fields = append(fields, zap.String("rescuer", ev.Rescuer.MarshalHex()))
	}
	if ev.Friend != nil {
		fields = append(fields, zap.String("friend", ev.Friend.MarshalHex()))
	}
	if ev.Amount > 0 {
		fields = append(fields, zap.Uint64("amount", ev.Amount))
	}

	s.logger.Info(string(ev.Type), fields...)
}

// NoopEventSink drops all events.
type NoopEventSink struct{}

func (NoopEventSink) Emit(Event) {}
