package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
	"github.com/ManuelReschke/billingsync/internal/pkg/metrics"
)

// EventPublisher turns committed integration events into billing_event jobs.
type EventPublisher struct {
	queue *Queue
}

func NewEventPublisher(queue *Queue) *EventPublisher {
	return &EventPublisher{queue: queue}
}

// Publish enqueues one job per event. It stops at the first enqueue error;
// events before it stay queued.
func (p *EventPublisher) Publish(ctx context.Context, events []billing.Event) error {
	for _, event := range events {
		body, err := BillingEventJobPayload{Event: event}.Encode()
		if err != nil {
			return err
		}
		if _, err := p.queue.EnqueueJob(ctx, JobTypeBillingEvent, body); err != nil {
			return fmt.Errorf("enqueue %s event: %w", event.Name, err)
		}
	}
	return nil
}

// Dispatcher fans billing_event jobs out to the registered consumers.
type Dispatcher struct {
	consumers []billing.Consumer
}

func NewDispatcher(consumers ...billing.Consumer) *Dispatcher {
	return &Dispatcher{consumers: consumers}
}

// Register wires the dispatcher into the queue.
func (d *Dispatcher) Register(q *Queue) {
	q.Register(JobTypeBillingEvent, d.Handle)
}

// Handle delivers the job's event to every consumer that has not seen it
// yet. Successful deliveries are written back into the job payload so a
// retry skips them.
func (d *Dispatcher) Handle(ctx context.Context, job *Job) error {
	payload, err := DecodeBillingEventPayload(job.Payload)
	if err != nil {
		return fmt.Errorf("decode billing event payload: %w", err)
	}

	var errs []error
	for _, consumer := range d.consumers {
		name := consumer.Name()
		if payload.wasDelivered(name) {
			continue
		}
		if err := consumer.Consume(ctx, payload.Event); err != nil {
			log.Errorf("[Dispatcher] %s failed on %s (job %s): %v", name, payload.Event.Name, job.ID, err)
			metrics.EventsDispatched.WithLabelValues(string(payload.Event.Name), name, "error").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		metrics.EventsDispatched.WithLabelValues(string(payload.Event.Name), name, "ok").Inc()
		payload.Delivered = append(payload.Delivered, name)
	}

	body, err := payload.Encode()
	if err != nil {
		// Keep the old body: a retry redelivers to everyone rather than nobody.
		errs = append(errs, err)
	} else {
		job.Payload = body
	}
	return errors.Join(errs...)
}
