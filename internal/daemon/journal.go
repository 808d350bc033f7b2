package daemon

import (
	"go.uber.org/zap"

	"github.com/matheus3301/wacodex/internal/bus"
)

const journalBuffer = 64

// Journal subscribes to every bus event and writes it to the structured
// log, giving operators one stream for connection status changes,
// credential activity, and message telemetry.
type Journal struct {
	bus    *bus.Bus
	logger *zap.Logger
	quit   chan struct{}
	done   chan struct{}
}

// NewJournal creates a journal. Start must be called to begin consuming.
func NewJournal(b *bus.Bus, logger *zap.Logger) *Journal {
	return &Journal{
		bus:    b,
		logger: logger,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start subscribes to the bus and consumes events until Stop.
func (j *Journal) Start() {
	ch, unsub := j.bus.Subscribe("", journalBuffer)
	go func() {
		defer close(j.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				j.record(evt)
			case <-j.quit:
				return
			}
		}
	}()
}

// Stop unsubscribes and waits for the consumer to exit.
func (j *Journal) Stop() {
	close(j.quit)
	<-j.done
}

func (j *Journal) record(evt bus.Event) {
	if evt.Kind == bus.KindConnPairingCode {
		// The pairing payload is a secret; log the occurrence only.
		j.logger.Info("event", zap.String("kind", evt.Kind))
		return
	}
	j.logger.Info("event",
		zap.String("kind", evt.Kind),
		zap.Any("payload", evt.Payload),
	)
}
