package config

import (
	"fmt"
	"log"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// defaults for when not provided in Config
	TcpKeepAliveInterval time.Duration = time.Second * 17
	TcpKeepAliveCount    uint16        = 2
	TcpDialTimeout       time.Duration = time.Second * 3
	TcpReconnectInterval time.Duration = time.Second * 5
	TcpReconnectLogEvery uint32        = 12
	ActivationSettleWait time.Duration = time.Millisecond * 1000
)

const (
	RolePrimary   = "primary"
	RoleCompanion = "companion"
)

const (
	TransportTcp  = "tcp"
	TransportNone = "none"
)

type Config struct {
	Host     string `toml:"host"`
	Instance string `toml:"instance"`
	Role     string `toml:"role"`

	// link
	Transport            string `toml:"transport"`
	SelfAddress          string `toml:"self_address"` // primary listens here
	PeerAddress          string `toml:"peer_address"` // companion dials here
	PairedHost           string `toml:"paired_host"`  // empty means not paired
	TcpKeepAliveInterval uint16 `toml:"tcp_keep_alive_interval"`
	TcpKeepAliveCount    uint16 `toml:"tcp_keep_alive_count"`
	TcpDialTimeout       uint16 `toml:"tcp_dial_timeout"`
	TcpReconnectInterval uint16 `toml:"tcp_reconnect_interval"`
	TcpReconnectLogEvery uint32 `toml:"tcp_reconnect_log_every"`

	// session, milliseconds
	ActivationSettleWait uint16 `toml:"activation_settle_wait"`
	SendReplyWait        uint16 `toml:"send_reply_wait"` // zero disables reply timeout

	AdminAddress string `toml:"admin_address"`

	LogPrefix string `toml:"log_prefix"`
	LogDebug  bool   `toml:"log_debug"`
}

// Load decodes a TOML file into a Config. The result is not validated.
func Load(path string) (*Config, error) {
	c := &Config{}
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		err = fmt.Errorf("failed to decode config file %s, err=%w", path, err)
		log.Printf("%s", err.Error())
		return nil, err
	}

	undecoded := md.Undecoded()
	if len(undecoded) > 0 {
		err = fmt.Errorf("unknown keys in config file %s: %v", path, undecoded)
		log.Printf("%s", err.Error())
		return nil, err
	}

	return c, nil
}

func (c *Config) Validate() error {
	if c == nil {
		err := fmt.Errorf("nil config")
		log.Printf("%s", err.Error())
		return err
	}

	if c.Host == "" {
		err := fmt.Errorf("invalid Host=%s", c.Host)
		log.Printf("%s", err.Error())
		return err
	}

	if c.Instance == "" {
		err := fmt.Errorf("invalid Instance=%s", c.Instance)
		log.Printf("%s", err.Error())
		return err
	}

	switch c.Role {
	case RolePrimary, RoleCompanion:
	default:
		err := fmt.Errorf("invalid Role=%s", c.Role)
		log.Printf("%s", err.Error())
		return err
	}

	switch c.Transport {
	case TransportNone:
		// nothing else to check, session reports not supported
		return nil
	case TransportTcp:
	default:
		err := fmt.Errorf("invalid Transport=%s", c.Transport)
		log.Printf("%s", err.Error())
		return err
	}

	if c.Role == RolePrimary && c.SelfAddress == "" {
		err := fmt.Errorf("invalid SelfAddress=%s, primary must listen", c.SelfAddress)
		log.Printf("%s", err.Error())
		return err
	}

	if c.Role == RoleCompanion && c.PeerAddress == "" {
		err := fmt.Errorf("invalid PeerAddress=%s, companion must dial", c.PeerAddress)
		log.Printf("%s", err.Error())
		return err
	}

	if c.PairedHost == c.Host {
		err := fmt.Errorf("invalid PairedHost=%s, cannot pair with self", c.PairedHost)
		log.Printf("%s", err.Error())
		return err
	}

	return nil
}

// IsPrimary reports whether this peer listens for its companion.
func (c *Config) IsPrimary() bool {
	return c.Role == RolePrimary
}

func (c *Config) GetActivationSettleWait() time.Duration {
	if c.ActivationSettleWait == 0 {
		return ActivationSettleWait
	}
	return time.Millisecond * time.Duration(c.ActivationSettleWait)
}

// GetSendReplyWait returns zero when pending sends never time out.
func (c *Config) GetSendReplyWait() time.Duration {
	return time.Millisecond * time.Duration(c.SendReplyWait)
}

func (c *Config) GetTcpKeepAliveInterval() time.Duration {
	if c.TcpKeepAliveInterval == 0 {
		return TcpKeepAliveInterval
	}
	return time.Second * time.Duration(c.TcpKeepAliveInterval)
}

func (c *Config) GetTcpKeepAliveCount() uint16 {
	if c.TcpKeepAliveCount == 0 {
		return TcpKeepAliveCount
	}
	return c.TcpKeepAliveCount
}

func (c *Config) GetTcpDialTimeout() time.Duration {
	if c.TcpDialTimeout == 0 {
		return TcpDialTimeout
	}
	return time.Second * time.Duration(c.TcpDialTimeout)
}

func (c *Config) GetTcpReconnectInterval() time.Duration {
	if c.TcpReconnectInterval == 0 {
		return TcpReconnectInterval
	}
	return time.Second * time.Duration(c.TcpReconnectInterval)
}

func (c *Config) GetTcpReconnectLogEvery() uint32 {
	if c.TcpReconnectLogEvery == 0 {
		return TcpReconnectLogEvery
	}
	return c.TcpReconnectLogEvery
}
