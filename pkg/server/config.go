package server

import "time"

const (
	DefaultPort         = "69"
	DefaultNetwork      = "udp4"
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
	DefaultNumTries     = 5
)

type Config struct {
	// Host is empty to listen on all local addresses.
	Host    string
	Port    string
	Network string
	// BaseDir confines every requested filename.
	BaseDir      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	NumTries     int
	ReusePort    bool
	// NetASCII enables newline translation for netascii-mode requests.
	NetASCII        bool
	ReackDuplicates bool
}

func (c Config) withDefaults() Config {
	if c.Port == "" {
		c.Port = DefaultPort
	}

	if c.Network == "" {
		c.Network = DefaultNetwork
	}

	if c.BaseDir == "" {
		c.BaseDir = "."
	}

	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}

	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}

	if c.NumTries <= 0 {
		c.NumTries = DefaultNumTries
	}

	return c
}

func (c Config) transferOptions() TransferOptions {
	return TransferOptions{
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
		NumTries:        c.NumTries,
		ReackDuplicates: c.ReackDuplicates,
	}
}

// TransferOptions tune a single session.
type TransferOptions struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	NumTries     int
	// ReackDuplicates makes an upload re-send the last ack when the peer
	// retransmits an already confirmed block.
	ReackDuplicates bool
}

func (o TransferOptions) withDefaults() TransferOptions {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}

	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}

	if o.NumTries <= 0 {
		o.NumTries = DefaultNumTries
	}

	return o
}
