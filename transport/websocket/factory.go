package websocket

import "github.com/c360/litesync/socket"

// Factory creates websocket transports.
type Factory struct {
	cfg Config
}

// NewFactory creates a factory; zero Config fields take their defaults.
func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg.withDefaults()}
}

// NewTransport implements socket.TransportFactory.
func (f *Factory) NewTransport(listener socket.RemoteListener) socket.Transport {
	return newTransport(f.cfg, listener)
}
