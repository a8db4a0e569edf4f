package ingest

import (
	"context"
	"log"
	"sync"

	"github.com/coconiss/WalkTracker-sub000/internal/activity"
	"github.com/coconiss/WalkTracker-sub000/internal/supervisor"
	"github.com/segmentio/kafka-go"
)

// Engine is the per-user sample sink the pump feeds.
type Engine interface {
	OnStepSample(totalSinceBoot int64)
	OnPressureSample(pressureHPa float64, timestampMs int64)
	OnLocationFix(fix activity.LocationFix)
	OnActivityTransition(to activity.MotionState)
}

// EngineSource resolves a user to a running engine. Events for users with
// no running engine are dropped after commit.
type EngineSource interface {
	Engine(userID string) (Engine, bool)
}

// RegistrySource adapts a supervisor registry to an EngineSource.
func RegistrySource(r *supervisor.Registry) EngineSource {
	return registrySource{r: r}
}

type registrySource struct {
	r *supervisor.Registry
}

func (s registrySource) Engine(userID string) (Engine, bool) {
	sup, ok := s.r.Get(userID)
	if !ok {
		return nil, false
	}
	return sup, true
}

// MessageSource is the subset of Consumer the pump needs.
type MessageSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// Pump consumes sensor events from Kafka and routes them to the engines.
// Partition-per-user keying means the pump preserves per-user sample order.
type Pump struct {
	source  MessageSource
	engines EngineSource

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPump(source MessageSource, engines EngineSource) *Pump {
	return &Pump{source: source, engines: engines}
}

func (p *Pump) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run(ctx)
}

func (p *Pump) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pump) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		msg, err := p.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("ingest: fetch failed: %v", err)
			continue
		}

		p.dispatch(msg)

		// Commit even when the event was bad or unroutable. Replaying a
		// malformed message would just fail again.
		if err := p.source.Commit(ctx, msg); err != nil && ctx.Err() == nil {
			log.Printf("ingest: commit failed: %v", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (p *Pump) dispatch(msg kafka.Message) {
	event, err := DecodeSensorEvent(msg.Value)
	if err != nil {
		log.Printf("ingest: dropping undecodable message at offset %d: %v", msg.Offset, err)
		return
	}
	if err := event.Validate(); err != nil {
		log.Printf("ingest: dropping invalid %s event: %v", event.Type, err)
		return
	}

	engine, ok := p.engines.Engine(event.UserID)
	if !ok {
		return
	}

	switch event.Type {
	case EventStep:
		engine.OnStepSample(event.TotalSinceBoot)
	case EventPressure:
		engine.OnPressureSample(event.PressureHPa, event.TimestampMs)
	case EventLocation:
		engine.OnLocationFix(*event.Fix)
	case EventTransition:
		engine.OnActivityTransition(event.Motion)
	}
}
