package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/simonvetter/modbus"

	"github.com/rohanbalixz/clad-pv/internal/model"
	"github.com/rohanbalixz/clad-pv/internal/registers"
	"github.com/rohanbalixz/clad-pv/internal/schedule"
)

type ClientConfig struct {
	// Addr is host:port.
	Addr    string
	UnitID  uint8
	Timeout time.Duration
	Clock   schedule.Clock
}

// Client is a Modbus/TCP master for the gateway's register map. After a
// failed request the connection is re-opened on the next call.
type Client struct {
	cfg ClientConfig
	mc  *modbus.ModbusClient

	mu     sync.Mutex
	open   bool
	broken bool
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.UnitID == 0 {
		cfg.UnitID = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = schedule.Real{}
	}
	mc, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     "tcp://" + cfg.Addr,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("modbus client: %w", err)
	}
	return &Client{cfg: cfg, mc: mc}, nil
}

func (c *Client) connLocked() error {
	if c.open && !c.broken {
		return nil
	}
	if c.open {
		_ = c.mc.Close()
		c.open = false
	}
	if err := c.mc.Open(); err != nil {
		return fmt.Errorf("connect %s: %w", c.cfg.Addr, err)
	}
	if err := c.mc.SetUnitId(c.cfg.UnitID); err != nil {
		_ = c.mc.Close()
		return err
	}
	c.open, c.broken = true, false
	return nil
}

func (c *Client) do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connLocked(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		c.broken = true
		return err
	}
	return nil
}

func (c *Client) ReadHolding(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	var out []uint16
	err := c.do(ctx, func() (err error) {
		out, err = c.mc.ReadRegisters(addr, qty, modbus.HOLDING_REGISTER)
		return err
	})
	return out, err
}

func (c *Client) ReadInput(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	var out []uint16
	err := c.do(ctx, func() (err error) {
		out, err = c.mc.ReadRegisters(addr, qty, modbus.INPUT_REGISTER)
		return err
	})
	return out, err
}

func (c *Client) WriteHolding(ctx context.Context, addr uint16, values []uint16) error {
	return c.do(ctx, func() error {
		if len(values) == 1 {
			return c.mc.WriteRegister(addr, values[0])
		}
		return c.mc.WriteRegisters(addr, values)
	})
}

// Heartbeat reads the publisher heartbeat.
func (c *Client) Heartbeat(ctx context.Context) (uint16, error) {
	regs, err := c.ReadInput(ctx, registers.HeartbeatAddr, 1)
	if err != nil {
		return 0, err
	}
	return regs[0], nil
}

// ReadReading reads the whole holding bank and decodes it.
func (c *Client) ReadReading(ctx context.Context) (model.Reading, error) {
	regs, err := c.ReadHolding(ctx, 0, registers.HoldingCount)
	if err != nil {
		return model.Reading{}, err
	}
	return registers.DecodeBank(regs, c.cfg.Clock.Now())
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	c.open = false
	return c.mc.Close()
}

// ImageReader reads an in-process image directly, for the demo and tests.
type ImageReader struct {
	Image *registers.Image
	Clock schedule.Clock
}

func (r ImageReader) ReadReading(ctx context.Context) (model.Reading, error) {
	if err := ctx.Err(); err != nil {
		return model.Reading{}, err
	}
	s := r.Image.Snapshot()
	clk := r.Clock
	if clk == nil {
		clk = schedule.Real{}
	}
	return registers.DecodeBank(s.Holding[:], clk.Now())
}

// ImageWriter writes to an in-process image as a protocol client would.
type ImageWriter struct {
	Image *registers.Image
}

func (w ImageWriter) WriteHolding(ctx context.Context, addr uint16, values []uint16) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := w.Image.WriteHolding(addr, values)
	return err
}
