package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HttpOptions)(nil)

// HttpOptions contains configuration items related to HTTP server startup.
type HttpOptions struct {
	// Network with server network.
	Network string `json:"network" mapstructure:"network"`

	// Address with server address.
	Addr string `json:"addr" mapstructure:"addr"`

	// Timeout bounds reading request headers and writing responses. Update
	// uploads are exempt since they stream for as long as the client sends.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxConnections caps concurrent WebSocket sessions.
	MaxConnections int `json:"max-connections" mapstructure:"max-connections"`
}

// NewHttpOptions creates a HttpOptions object with default parameters.
func NewHttpOptions() *HttpOptions {
	return &HttpOptions{
		Network:        "tcp",
		Addr:           "0.0.0.0:8080",
		Timeout:        30 * time.Second,
		MaxConnections: 8,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *HttpOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, err)
	}
	if o.MaxConnections < 1 {
		errors = append(errors, fmt.Errorf("--http.max-connections must be at least 1"))
	}

	return errors
}

// AddFlags adds flags related to the HTTP server to the specified FlagSet.
func (o *HttpOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Network, "http.network", o.Network, "Specify the network for the HTTP server.")
	fs.StringVar(&o.Addr, "http.addr", o.Addr, "Specify the HTTP server bind address and port.")
	fs.DurationVar(&o.Timeout, "http.timeout", o.Timeout, "Timeout for server connections.")
	fs.IntVar(&o.MaxConnections, "http.max-connections", o.MaxConnections, "Maximum number of concurrent WebSocket sessions.")
}
