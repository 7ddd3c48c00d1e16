// Package transport serves the register image over Modbus/TCP and reads it
// back as a client.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/simonvetter/modbus"

	"github.com/rohanbalixz/clad-pv/internal/metrics"
	"github.com/rohanbalixz/clad-pv/internal/registers"
)

// CoilCount is the size of the coil and discrete-input banks. They carry no
// data and always read as zero.
const CoilCount = 16

// Identity is what the device reports about itself.
type Identity struct {
	Vendor  string
	Product string
	Version string
}

var DefaultIdentity = Identity{Vendor: "CLAD-PV", Product: "PV-EMU-1", Version: "1.0"}

// Handler answers Modbus requests from a registers.Image.
type Handler struct {
	image   *registers.Image
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewHandler(image *registers.Image, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{image: image, metrics: m, logger: logger}
}

func mapErr(err error) error {
	if errors.Is(err, registers.ErrIllegalAddress) {
		return modbus.ErrIllegalDataAddress
	}
	return modbus.ErrServerDeviceFailure
}

func (h *Handler) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	if int(req.Addr)+int(req.Quantity) > CoilCount {
		return nil, modbus.ErrIllegalDataAddress
	}
	if req.IsWrite {
		h.metrics.DiscardedWrite("coils")
		h.logger.Debug("coil write discarded", "client", req.ClientAddr, "addr", req.Addr, "qty", req.Quantity)
		return nil, nil
	}
	return make([]bool, req.Quantity), nil
}

func (h *Handler) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) ([]bool, error) {
	if int(req.Addr)+int(req.Quantity) > CoilCount {
		return nil, modbus.ErrIllegalDataAddress
	}
	return make([]bool, req.Quantity), nil
}

func (h *Handler) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	if req.IsWrite {
		applied, err := h.image.WriteHolding(req.Addr, req.Args)
		if err != nil {
			return nil, mapErr(err)
		}
		if !applied {
			h.metrics.DiscardedWrite("holding")
		}
		h.logger.Debug("holding register write",
			"client", req.ClientAddr, "addr", req.Addr, "qty", len(req.Args), "applied", applied)
		return nil, nil
	}
	regs, err := h.image.ReadHolding(req.Addr, req.Quantity)
	if err != nil {
		return nil, mapErr(err)
	}
	return regs, nil
}

func (h *Handler) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	regs, err := h.image.ReadInput(req.Addr, req.Quantity)
	if err != nil {
		return nil, mapErr(err)
	}
	return regs, nil
}

type ServerConfig struct {
	// Addr is host:port.
	Addr       string
	Timeout    time.Duration
	MaxClients uint
	Identity   Identity
}

// Server is a Modbus/TCP listener bound to one image.
type Server struct {
	cfg    ServerConfig
	srv    *modbus.ModbusServer
	logger *slog.Logger
}

func NewServer(cfg ServerConfig, h *Handler, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = 8
	}
	if cfg.Identity == (Identity{}) {
		cfg.Identity = DefaultIdentity
	}
	srv, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        "tcp://" + cfg.Addr,
		Timeout:    cfg.Timeout,
		MaxClients: cfg.MaxClients,
	}, h)
	if err != nil {
		return nil, fmt.Errorf("modbus server: %w", err)
	}
	return &Server{cfg: cfg, srv: srv, logger: logger}, nil
}

// Run listens until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.srv.Start(); err != nil {
		return fmt.Errorf("modbus listen %s: %w", s.cfg.Addr, err)
	}
	s.logger.Info("modbus server listening",
		"addr", s.cfg.Addr,
		"vendor", s.cfg.Identity.Vendor,
		"product", s.cfg.Identity.Product,
		"version", s.cfg.Identity.Version,
	)
	<-ctx.Done()
	if err := s.srv.Stop(); err != nil {
		return fmt.Errorf("modbus stop: %w", err)
	}
	s.logger.Info("modbus server stopped")
	return nil
}
