// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Protocol selects which session engine a process runs: STREAM (TCP-framed)
// or DGRAM (UDP reliable-ordered).
type Protocol string

const (
	ProtocolTCP Protocol = "TCP"
	ProtocolUDP Protocol = "UDP"
)

// Mode selects which endpoint role a process plays.
type Mode string

const (
	ModeRelay Mode = "RELAY"
	ModeProxy Mode = "PROXY"
)

// Config is the full recognized key set: spec.md's table plus the
// supplemental ambient keys (tcp_compress, entropy_qpp, entropy_qpp_count)
// this implementation adds.
type Config struct {
	Protocol Protocol `json:"protocol"`
	Mode     Mode     `json:"mode"`

	Debug   bool `json:"debug"`
	Monitor bool `json:"monitor"`

	RelayHost string `json:"relay_host"`
	RelayPort int    `json:"relay_port"`
	ProxyHost string `json:"proxy_host"`
	ProxyPort int    `json:"proxy_port"`

	CipherKey   string `json:"cipher_key"`
	EntropyRate int    `json:"entropy_rate"`
	Token       string `json:"token"`

	ServingTimeout int `json:"serving_timeout"`
	TCPBuffer      int `json:"tcp_buffer"`
	TCPTimeout     int `json:"tcp_timeout"`
	MessageTimeout int `json:"message_timeout"`

	UDPMinPayload   int `json:"udp_min_payload"`
	UDPMaxPayload   int `json:"udp_max_payload"`
	UDPTimeout      int `json:"udp_timeout"`
	UDPRetries      int `json:"udp_retries"`
	UDPCapacity     int `json:"udp_capacity"`
	UDPResendSleep  int `json:"udp_resend_sleep"`

	// Supplemental, not in spec.md's base key table.
	TCPCompress    bool   `json:"tcp_compress"`
	EntropyQPP     bool   `json:"entropy_qpp"`
	EntropyQPPKey  string `json:"entropy_qpp_key"`
	EntropyQPPCount int   `json:"entropy_qpp_count"`

	// Log, mirrored on kcptun's config.Log: empty means stderr.
	Log string `json:"log"`
}

// Load reads and decodes a JSON config file, mirroring server/config.go's
// parseJSONConfig: a plain os.Open + json.Decoder, no schema validation
// library, errors returned verbatim for the caller to wrap.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := Default()
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default mirrors the reference tuning.py defaults: conservative timeouts
// and a payload range matching a typical Ethernet-safe UDP datagram.
func Default() *Config {
	return &Config{
		ServingTimeout: 300,
		TCPBuffer:      4096,
		TCPTimeout:     10,
		MessageTimeout: 10,
		UDPMinPayload:  512,
		UDPMaxPayload:  512,
		UDPTimeout:     1,
		UDPRetries:     5,
		UDPCapacity:    1024,
		UDPResendSleep: 1,
	}
}

// Validate reports the first structural problem preventing the config from
// describing a runnable session engine; a non-zero entropy_rate below 2 is
// one such problem. Non-fatal warnings (weak token, empty cipher_key) are
// surfaced separately by Warnings, not here.
func (c *Config) Validate() error {
	if c.Protocol != ProtocolTCP && c.Protocol != ProtocolUDP {
		return fmt.Errorf("config: protocol must be %q or %q, got %q", ProtocolTCP, ProtocolUDP, c.Protocol)
	}
	if c.Mode != ModeRelay && c.Mode != ModeProxy {
		return fmt.Errorf("config: mode must be %q or %q, got %q", ModeRelay, ModeProxy, c.Mode)
	}
	if c.Token == "" {
		return fmt.Errorf("config: token must not be empty")
	}
	if c.Mode == ModeRelay && (c.RelayHost == "" || c.RelayPort == 0) {
		return fmt.Errorf("config: relay_host/relay_port required in RELAY mode")
	}
	if c.ProxyHost == "" || c.ProxyPort == 0 {
		return fmt.Errorf("config: proxy_host/proxy_port required")
	}
	if c.EntropyRate != 0 && c.EntropyRate < 2 {
		return fmt.Errorf("config: entropy_rate must be >= 2 when set, got %d", c.EntropyRate)
	}
	if c.UDPMinPayload > c.UDPMaxPayload {
		return fmt.Errorf("config: udp_min_payload must be <= udp_max_payload")
	}
	return nil
}

// Warnings returns operator-facing advisories that do not block startup,
// modeled on client/main.go's color.Red QPP parameter warnings.
func (c *Config) Warnings() []string {
	var warns []string
	if c.CipherKey == "" {
		warns = append(warns, "cipher_key is empty: traffic between relay and proxy is cleartext")
	}
	if len(c.Token) < 8 {
		warns = append(warns, "token is short: prefer a long, random shared secret")
	}
	if c.EntropyRate != 0 && c.EntropyRate < 2 {
		warns = append(warns, "entropy_rate < 2 disables filler insertion entirely")
	}
	return warns
}
