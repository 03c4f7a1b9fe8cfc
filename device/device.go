// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"math"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/kframe/core"
	"github.com/devblok/kframe/util/registry"
)

// ID identifies a device inside its Registry
type ID uint32

// Option changes how a Device is set up
type Option func(*Device)

// WithStagingPool keeps up to n released staging buffers for reuse
func WithStagingPool(n int) Option {
	return func(d *Device) {
		d.stagingLimit = n
	}
}

// WithName names the device in logs
func WithName(name string) Option {
	return func(d *Device) {
		d.name = name
	}
}

// New wraps a driver into a Device and fetches the queues that
// were requested when the driver created the logical device.
func New(driver Driver, requests []QueueTraits, opts ...Option) (*Device, error) {
	assignments, err := AssignQueues(driver.QueueFamilies(), requests)
	if err != nil {
		return nil, errors.Wrap(err, "device.New()")
	}

	d := &Device{
		driver:       driver,
		stagingLimit: 4,
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, a := range assignments {
		d.queues = append(d.queues, &DeviceQueue{
			Traits:    a.Traits,
			Family:    a.Family,
			Index:     a.Index,
			Handle:    driver.GetQueue(a.Family, a.Index),
			available: true,
		})
	}
	return d, nil
}

// Device is a logical device with its queues and staging buffers
type Device struct {
	id     ID
	name   string
	driver Driver

	queueMutex sync.Mutex
	queues     []*DeviceQueue

	stagingMutex sync.Mutex
	staging      []*StagingBuffer
	stagingLimit int
}

// ID returns the registry identifier of the device
func (d *Device) ID() ID {
	return d.id
}

// Name returns the device name used in logs
func (d *Device) Name() string {
	return d.name
}

// Driver returns the driver that executes the device calls
func (d *Device) Driver() Driver {
	return d.driver
}

// Queue finds an available queue matching traits. When reserve is set the
// queue is marked as taken until ReleaseQueue is called.
func (d *Device) Queue(traits QueueTraits, reserve bool) (*DeviceQueue, error) {
	d.queueMutex.Lock()
	defer d.queueMutex.Unlock()

	for _, q := range d.queues {
		if !q.available || !traits.Matches(d.familyFlags(q.Family)) {
			continue
		}
		if reserve {
			q.available = false
		}
		return q, nil
	}
	return nil, errors.Wrapf(core.ErrConfiguration, "device %d: no available queue with must have %#x, must not have %#x", d.id, traits.MustHave, traits.MustNotHave)
}

// ReleaseQueue makes a reserved queue available again
func (d *Device) ReleaseQueue(q *DeviceQueue) {
	d.queueMutex.Lock()
	defer d.queueMutex.Unlock()
	for _, dq := range d.queues {
		if dq == q {
			dq.available = true
		}
	}
}

func (d *Device) familyFlags(family uint32) QueueFlags {
	families := d.driver.QueueFamilies()
	if int(family) >= len(families) {
		return 0
	}
	return families[family].Flags
}

// BeginSingleTimeCommands allocates a primary command buffer from pool
// and begins it for one submission.
func (d *Device) BeginSingleTimeCommands(pool CommandPool) (CommandBuffer, error) {
	cbs, err := d.driver.AllocateCommandBuffers(pool, CommandBufferLevelPrimary, 1)
	if err != nil {
		return 0, core.Fatal(err, "vk.AllocateCommandBuffers()")
	}
	if err := d.driver.BeginCommandBuffer(cbs[0], CommandBufferUsageOneTimeSubmit); err != nil {
		d.driver.FreeCommandBuffers(pool, cbs)
		return 0, core.Fatal(err, "vk.BeginCommandBuffer()")
	}
	return cbs[0], nil
}

// EndSingleTimeCommands ends cb, submits it to queue, waits for the
// queue to go idle and frees the command buffer.
func (d *Device) EndSingleTimeCommands(cb CommandBuffer, pool CommandPool, queue Queue) error {
	defer d.driver.FreeCommandBuffers(pool, []CommandBuffer{cb})

	if err := d.driver.EndCommandBuffer(cb); err != nil {
		return core.Fatal(err, "vk.EndCommandBuffer()")
	}
	submit := []SubmitInfo{{CommandBuffers: []CommandBuffer{cb}}}
	if err := d.driver.QueueSubmit(queue, submit, 0); err != nil {
		return core.Fatal(err, "vk.QueueSubmit()")
	}
	return core.Fatal(d.driver.QueueWaitIdle(queue), "vk.QueueWaitIdle()")
}

// WaitIdle blocks until the device finished all submitted work
func (d *Device) WaitIdle() error {
	return core.Fatal(d.driver.DeviceWaitIdle(), "vk.DeviceWaitIdle()")
}

// Destroy frees staging buffers and the underlying driver
func (d *Device) Destroy() {
	if d == nil {
		return
	}
	d.stagingMutex.Lock()
	for _, sb := range d.staging {
		sb.destroy(d.driver)
	}
	d.staging = nil
	d.stagingMutex.Unlock()

	d.driver.Destroy()
	log.WithField("device", d.id).Debug("device destroyed")
}

// Registry owns devices, everything else refers to them by ID
type Registry struct {
	mutex   sync.Mutex
	next    ID
	devices registry.Registry[ID, *Device]
}

// Register takes ownership of d and assigns its ID
func (r *Registry) Register(d *Device) ID {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.next == math.MaxUint32 {
		panic("device registry exhausted")
	}
	r.next++
	d.id = r.next
	r.devices.Set(d.id, d)
	log.WithFields(log.Fields{"device": d.id, "name": d.name}).Info("device registered")
	return d.id
}

// Lookup returns the device registered under id
func (r *Registry) Lookup(id ID) (*Device, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.devices.Get(id)
}

// Destroy destroys and forgets every registered device
func (r *Registry) Destroy() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.devices.Each(func(_ ID, d *Device) {
		d.Destroy()
	})
	r.devices.Clear()
}
