package topology

import (
	"context"
	"fmt"
	"sync"
)

// fakeControlPlane is an in-memory ControlPlane that counts mutations.
type fakeControlPlane struct {
	mu        sync.Mutex
	streams   map[string]StreamSpec
	consumers map[string]map[string]ConsumerSpec

	creates int
	updates int

	// failures maps an operation name to errors returned by its next calls.
	failures map[string][]error
}

func newFakeControlPlane() *fakeControlPlane {
	return &fakeControlPlane{
		streams:   map[string]StreamSpec{},
		consumers: map[string]map[string]ConsumerSpec{},
		failures:  map[string][]error{},
	}
}

func (f *fakeControlPlane) failNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

func (f *fakeControlPlane) popFailure(op string) error {
	errs := f.failures[op]
	if len(errs) == 0 {
		return nil
	}
	f.failures[op] = errs[1:]

	return errs[0]
}

func (f *fakeControlPlane) StreamConfig(_ context.Context, name string) (StreamSpec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popFailure("StreamConfig"); err != nil {
		return StreamSpec{}, err
	}
	s, ok := f.streams[name]
	if !ok {
		return StreamSpec{}, fmt.Errorf("stream %s: %w", name, ErrNotFound)
	}

	return s, nil
}

func (f *fakeControlPlane) CreateStream(_ context.Context, spec StreamSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popFailure("CreateStream"); err != nil {
		return err
	}
	if _, ok := f.streams[spec.Name]; ok {
		return fmt.Errorf("stream %s already exists", spec.Name)
	}
	f.streams[spec.Name] = spec
	f.consumers[spec.Name] = map[string]ConsumerSpec{}
	f.creates++

	return nil
}

func (f *fakeControlPlane) UpdateStream(_ context.Context, spec StreamSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popFailure("UpdateStream"); err != nil {
		return err
	}
	f.streams[spec.Name] = spec
	f.updates++

	return nil
}

func (f *fakeControlPlane) ConsumerConfig(_ context.Context, stream, durable string) (ConsumerSpec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popFailure("ConsumerConfig"); err != nil {
		return ConsumerSpec{}, err
	}
	c, ok := f.consumers[stream][durable]
	if !ok {
		return ConsumerSpec{}, fmt.Errorf("consumer %s: %w", durable, ErrNotFound)
	}

	return c, nil
}

func (f *fakeControlPlane) CreateConsumer(_ context.Context, stream string, spec ConsumerSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popFailure("CreateConsumer"); err != nil {
		return err
	}
	if _, ok := f.streams[stream]; !ok {
		return fmt.Errorf("stream %s: %w", stream, ErrNotFound)
	}
	if _, ok := f.consumers[stream][spec.Durable]; ok {
		return fmt.Errorf("consumer %s already exists", spec.Durable)
	}
	f.consumers[stream][spec.Durable] = spec
	f.creates++

	return nil
}

func (f *fakeControlPlane) UpdateConsumer(_ context.Context, stream string, spec ConsumerSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popFailure("UpdateConsumer"); err != nil {
		return err
	}
	f.consumers[stream][spec.Durable] = spec
	f.updates++

	return nil
}

func (f *fakeControlPlane) mutations() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.creates, f.updates
}
