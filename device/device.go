// Package device wires the reader together: one control goroutine owns the
// tag cache, the feedback outputs and the reader chip, and alternates
// between polling for cards and answering host commands.
package device

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"fobreader/address"
	"fobreader/bus"
	"fobreader/dispatch"
	"fobreader/poll"
	"fobreader/protocol"
	"fobreader/reader"
	"fobreader/tagcache"
)

// Feedback is the feedback controller as the device uses it.
type Feedback interface {
	PowerOn()
	AcceptStart()
	AcceptEnd()
	RejectSequence()
	Shutdown()
	Release() error
}

// Reporter receives diagnostic events. The MQTT client implements it.
type Reporter interface {
	Boot(address, firmware string, chipVersion byte)
	TagStored(uid, card string)
	InvalidCard(uid, card string)
	BadCard()
	SelfTest(passed bool)
	RunPing(ctx context.Context)
}

// ErrBusClosed is returned by Run when the transport stops on its own.
var ErrBusClosed = errors.New("bus transport stopped")

// Options holds everything a Device is built from.
type Options struct {
	Address   address.Address
	Table     protocol.Table
	Firmware  string
	Transport bus.Transport
	Driver    reader.Driver
	Feedback  Feedback
	Reporter  Reporter
	Poll      time.Duration
	Verbose   bool
}

// Device is one fob reader station.
type Device struct {
	addr      address.Address
	enc       *protocol.Encoder
	transport bus.Transport
	driver    reader.Driver
	feedback  Feedback
	reporter  Reporter
	interval  time.Duration

	cache      *tagcache.Cache
	mailbox    *bus.Mailbox
	dispatcher *dispatch.Dispatcher
	loop       *poll.Loop
}

// New builds a device. Reporter may be nil.
func New(opts Options) (*Device, error) {
	if opts.Transport == nil || opts.Driver == nil || opts.Feedback == nil {
		return nil, errors.New("device needs a transport, a reader and feedback")
	}
	if opts.Poll <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", opts.Poll)
	}
	enc, err := protocol.NewEncoder(opts.Firmware)
	if err != nil {
		return nil, err
	}
	if opts.Table.Len() == 0 {
		opts.Table = protocol.Canonical()
	}
	if opts.Reporter == nil {
		opts.Reporter = nopReporter{}
	}

	d := &Device{
		addr:      opts.Address,
		enc:       enc,
		transport: opts.Transport,
		driver:    opts.Driver,
		feedback:  opts.Feedback,
		reporter:  opts.Reporter,
		interval:  opts.Poll,
		cache:     tagcache.NewCache(),
		mailbox:   bus.NewMailbox(),
	}

	d.dispatcher = dispatch.New(opts.Table, enc, opts.Transport, d.cache, opts.Feedback, opts.Driver)
	d.dispatcher.Verbose = opts.Verbose
	d.dispatcher.OnHandled(d.handled)

	d.loop = poll.New(opts.Driver, d.cache, opts.Feedback)
	d.loop.OnStored(func(card reader.Card, id tagcache.TagID) {
		d.reporter.TagStored(id.String(), card.Type().String())
	})
	d.loop.OnInvalid(func(card reader.Card) {
		d.reporter.InvalidCard(fmt.Sprintf("% X", card.UID), card.Type().String())
	})

	return d, nil
}

func (d *Device) handled(ev dispatch.Event) {
	switch ev.Entry.Action {
	case protocol.ActionBadCard:
		d.reporter.BadCard()
	case protocol.ActionSelfTest:
		d.reporter.SelfTest(ev.SelfTest)
	}
}

// Address returns the station address.
func (d *Device) Address() address.Address {
	return d.addr
}

// Boot lights the power LED and reports the station to the diagnostics
// channel.
func (d *Device) Boot() {
	d.feedback.PowerOn()

	if dumper, ok := d.driver.(interface{ DumpVersion() }); ok {
		dumper.DumpVersion()
	}
	version, err := d.driver.ReadRegister(reader.VersionReg)
	if err != nil {
		log.Printf("Reader version: %v", err)
	}

	fw := d.enc.Firmware()
	log.Printf("Station %v, firmware %s, %s protocol", d.addr, fw, d.dispatcher.Table().Name())
	d.reporter.Boot(d.addr.String(), fw, version)
}

// Run services the bus and the reader until ctx is cancelled. Commands are
// answered between poll cycles, never during one.
func (d *Device) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- d.transport.Listen(ctx, func(cmd byte) {
			d.mailbox.Put(cmd)
		})
	}()
	go d.reporter.RunPing(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-listenErr:
			if ctx.Err() != nil {
				return nil
			}
			if err == nil {
				return ErrBusClosed
			}
			return fmt.Errorf("bus listen: %w", err)
		case <-d.mailbox.Ready():
			d.service()
		case <-ticker.C:
			d.loop.Cycle(ctx)
		}
	}
}

func (d *Device) service() {
	if cmd, ok := d.mailbox.Take(); ok {
		d.dispatcher.Handle(cmd)
	}
}

// Close turns the outputs off and releases the transport and reader.
func (d *Device) Close() error {
	d.feedback.Shutdown()

	var errs []error
	if err := d.feedback.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release feedback: %w", err))
	}
	if err := d.transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bus: %w", err))
	}
	if err := d.driver.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close reader: %w", err))
	}
	return errors.Join(errs...)
}

type nopReporter struct{}

func (nopReporter) Boot(string, string, byte)   {}
func (nopReporter) TagStored(string, string)    {}
func (nopReporter) InvalidCard(string, string)  {}
func (nopReporter) BadCard()                    {}
func (nopReporter) SelfTest(bool)               {}
func (nopReporter) RunPing(ctx context.Context) {}
