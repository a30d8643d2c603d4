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

package main

import (
	"context"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/xtaci/ouija/internal/codec"
	"github.com/xtaci/ouija/internal/config"
	"github.com/xtaci/ouija/internal/proxy"
	"github.com/xtaci/ouija/internal/relay"
	"github.com/xtaci/ouija/internal/supervisor"
	"github.com/xtaci/ouija/internal/telemetry"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "ouija"
	myApp.Usage = "HTTPS tunnel relay/proxy"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{Name: "mode", Value: "RELAY", Usage: "RELAY or PROXY"},
		cli.StringFlag{Name: "protocol", Value: "TCP", Usage: "TCP (STREAM engine) or UDP (DGRAM engine)"},
		cli.StringFlag{Name: "relay-host", Value: "0.0.0.0", Usage: "relay listen host, RELAY mode only"},
		cli.IntFlag{Name: "relay-port", Value: 8443, Usage: "relay listen port, RELAY mode only"},
		cli.StringFlag{Name: "proxy-host", Value: "127.0.0.1", Usage: "proxy host: listen address in PROXY mode, dial address in RELAY mode"},
		cli.IntFlag{Name: "proxy-port", Value: 8444, Usage: "proxy port"},
		cli.StringFlag{Name: "cipher-key", Value: "", EnvVar: "OUIJA_CIPHER_KEY", Usage: "pre-shared cipher key; empty means cleartext between relay and proxy"},
		cli.StringFlag{Name: "token", Value: "", EnvVar: "OUIJA_TOKEN", Usage: "pre-shared session token"},
		cli.IntFlag{Name: "entropy-rate", Value: 0, Usage: "insert 1 filler byte after every N-1 ciphertext bytes; 0 disables, other values below 2 are rejected"},
		cli.BoolFlag{Name: "entropy-qpp", Usage: "use Quantum Permutation Pads for entropy shaping instead of the simple filler codec"},
		cli.StringFlag{Name: "entropy-qpp-key", Value: "", Usage: "QPP seed, defaults to cipher-key when empty"},
		cli.IntFlag{Name: "entropy-qpp-count", Value: 61, Usage: "number of QPP pads; choose a prime for security"},
		cli.IntFlag{Name: "serving-timeout", Value: 300, Usage: "seconds a session may run before the supervisor force-closes it"},
		cli.IntFlag{Name: "tcp-buffer", Value: 4096, Usage: "read buffer size in bytes for STREAM forwarding"},
		cli.IntFlag{Name: "tcp-timeout", Value: 10, Usage: "STREAM plaintext-read poll interval in seconds"},
		cli.IntFlag{Name: "message-timeout", Value: 10, Usage: "seconds to wait for a handshake record"},
		cli.IntFlag{Name: "udp-min-payload", Value: 512, Usage: "minimum DGRAM chunk size in bytes"},
		cli.IntFlag{Name: "udp-max-payload", Value: 512, Usage: "maximum DGRAM chunk size in bytes"},
		cli.IntFlag{Name: "udp-timeout", Value: 1, Usage: "seconds before a DGRAM packet is considered lost"},
		cli.IntFlag{Name: "udp-retries", Value: 5, Usage: "DGRAM retransmission attempts before giving up"},
		cli.IntFlag{Name: "udp-capacity", Value: 1024, Usage: "max outstanding unacked DGRAM packets before shedding the session"},
		cli.IntFlag{Name: "udp-resend-sleep", Value: 1, Usage: "seconds between DGRAM retransmit sweeps"},
		cli.BoolFlag{Name: "tcp-compress", Usage: "snappy-compress STREAM frame payloads before encryption"},
		cli.BoolFlag{Name: "debug", Usage: "verbose per-session logging"},
		cli.BoolFlag{Name: "monitor", Usage: "periodically log aggregate telemetry"},
		cli.StringFlag{Name: "log", Value: "", Usage: "log file path, default goes to stderr"},
		cli.StringFlag{Name: "c", Value: "", Usage: "config from json file, which will override the command from shell"},
	}
	myApp.Action = run
	if err := myApp.Run(os.Args); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	cfg.Mode = config.Mode(c.String("mode"))
	cfg.Protocol = config.Protocol(c.String("protocol"))
	cfg.RelayHost = c.String("relay-host")
	cfg.RelayPort = c.Int("relay-port")
	cfg.ProxyHost = c.String("proxy-host")
	cfg.ProxyPort = c.Int("proxy-port")
	cfg.CipherKey = c.String("cipher-key")
	cfg.Token = c.String("token")
	cfg.EntropyRate = c.Int("entropy-rate")
	cfg.EntropyQPP = c.Bool("entropy-qpp")
	cfg.EntropyQPPKey = c.String("entropy-qpp-key")
	cfg.EntropyQPPCount = c.Int("entropy-qpp-count")
	cfg.ServingTimeout = c.Int("serving-timeout")
	cfg.TCPBuffer = c.Int("tcp-buffer")
	cfg.TCPTimeout = c.Int("tcp-timeout")
	cfg.MessageTimeout = c.Int("message-timeout")
	cfg.UDPMinPayload = c.Int("udp-min-payload")
	cfg.UDPMaxPayload = c.Int("udp-max-payload")
	cfg.UDPTimeout = c.Int("udp-timeout")
	cfg.UDPRetries = c.Int("udp-retries")
	cfg.UDPCapacity = c.Int("udp-capacity")
	cfg.UDPResendSleep = c.Int("udp-resend-sleep")
	cfg.TCPCompress = c.Bool("tcp-compress")
	cfg.Debug = c.Bool("debug")
	cfg.Monitor = c.Bool("monitor")
	cfg.Log = c.String("log")

	path := c.String("c")
	if path == "" && c.NArg() > 0 {
		path = c.Args().First()
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if cfg.EntropyQPPKey == "" {
		cfg.EntropyQPPKey = cfg.CipherKey
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Log != "" {
		f, err := os.OpenFile(cfg.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		defer f.Close()
		log.SetOutput(f)
	}

	for _, w := range cfg.Warnings() {
		color.Red("ouija warning: %s", w)
	}

	log.Println("mode:", cfg.Mode)
	log.Println("protocol:", cfg.Protocol)
	log.Println("relay:", cfg.RelayHost, cfg.RelayPort)
	log.Println("proxy:", cfg.ProxyHost, cfg.ProxyPort)
	log.Println("serving_timeout:", cfg.ServingTimeout)
	log.Println("entropy_rate:", cfg.EntropyRate, "entropy_qpp:", cfg.EntropyQPP)
	log.Println("tcp_compress:", cfg.TCPCompress)

	cipher := codec.NewCipher(cfg.CipherKey)
	entropy := codec.NewEntropy(codec.EntropyConfig{
		Rate:     cfg.EntropyRate,
		UseQPP:   cfg.EntropyQPP,
		QPPKey:   cfg.EntropyQPPKey,
		QPPCount: cfg.EntropyQPPCount,
	})

	logger := log.Default()
	tel := &telemetry.Telemetry{}
	token := []byte(cfg.Token)

	var activeCount func() int
	var serve func() error

	switch cfg.Mode {
	case config.ModeRelay:
		r := &relay.Relay{
			Config:    cfg,
			Token:     token,
			Cipher:    cipher,
			Entropy:   entropy,
			Logger:    logger,
			Telemetry: tel,
		}
		activeCount = r.ActiveCount
		serve = r.ListenAndServe
	case config.ModeProxy:
		p := &proxy.Proxy{
			Config:    cfg,
			Token:     token,
			Cipher:    cipher,
			Entropy:   entropy,
			Logger:    logger,
			Telemetry: tel,
		}
		activeCount = p.ActiveCount
		serve = p.ListenAndServe
	}

	if cfg.Monitor {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go supervisor.Monitor(ctx, logger, tel, activeCount, 0)
	}

	return serve()
}
