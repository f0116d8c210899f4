package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/wmitlv/internal/config"
	"github.com/danmuck/wmitlv/internal/logging"
	"github.com/danmuck/wmitlv/internal/protocol/abi"
	"github.com/danmuck/wmitlv/internal/protocol/codec"
	"github.com/danmuck/wmitlv/internal/protocol/schema"
	"github.com/danmuck/wmitlv/internal/protocol/session"
	"github.com/danmuck/wmitlv/internal/wmi"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

// loadConfig returns defaults when path is empty. A loaded file also
// reconfigures the process logger from its [log] section.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return config.Config{}, err
	}
	lc := cfg.Log
	lc.App = "wmictl"
	logging.ApplyEnvOverrides(&lc)
	logging.Configure(lc)
	return cfg, nil
}

func registry(events bool) *schema.Registry {
	if events {
		return schema.Events()
	}
	return schema.Commands()
}

func parseID(raw string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("parse message id %q: %w", raw, err)
	}
	return uint32(v), nil
}

func parseHex(raw string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", "\n", "", "\t", "", "0x", "").Replace(raw)
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return b, nil
}

func cmdSchema(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("schema", pflag.ContinueOnError)
	events := fs.BoolP("events", "e", false, "use the event registry")
	asYAML := fs.Bool("yaml", false, "print the registry as YAML")
	packed := fs.Bool("packed", false, "print the packed descriptor words")
	if err := fs.Parse(args); err != nil {
		return err
	}
	reg := registry(*events)
	if *asYAML {
		return schema.ExportYAML(out, reg)
	}
	if *packed {
		return printPacked(out, reg)
	}
	for _, id := range reg.IDs() {
		e, _ := reg.Lookup(id)
		fmt.Fprintf(out, "0x%05x %s\n", id, e.Name)
		for _, a := range e.Attributes {
			fmt.Fprintf(out, "  %s\n", a)
		}
	}
	return nil
}

func printPacked(out io.Writer, reg *schema.Registry) error {
	rows, err := reg.Packed()
	if err != nil {
		return err
	}
	for _, row := range rows {
		fmt.Fprintf(out, "0x%05x %s required=%d\n", row.MessageID, row.Name, row.Required)
		for i, w := range row.Words {
			fmt.Fprintf(out, "  0x%08x size=%d since=%d %s\n", uint32(w), row.Sizes[i], row.Since[i], row.Names[i])
		}
	}
	return nil
}

type payloadFlags struct {
	fs     *pflag.FlagSet
	id     *string
	events *bool
	strict *bool
	cfg    *string
}

func newPayloadFlags(name string) payloadFlags {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	return payloadFlags{
		fs:     fs,
		id:     fs.StringP("id", "i", "", "message id word (hex or decimal)"),
		events: fs.BoolP("events", "e", false, "use the event registry"),
		strict: fs.Bool("strict", false, "reject missing non-optional attributes"),
		cfg:    fs.StringP("config", "c", "", "config file"),
	}
}

func (p payloadFlags) parse(args []string) (uint32, []byte, codec.Options, error) {
	if err := p.fs.Parse(args); err != nil {
		return 0, nil, codec.Options{}, err
	}
	cfg, err := loadConfig(*p.cfg)
	if err != nil {
		return 0, nil, codec.Options{}, err
	}
	opts := cfg.Host.Codec
	if p.fs.Changed("strict") {
		opts.Strict = *p.strict
	}
	id, err := parseID(*p.id)
	if err != nil {
		return 0, nil, codec.Options{}, err
	}
	payload, err := parseHex(strings.Join(p.fs.Args(), ""))
	if err != nil {
		return 0, nil, codec.Options{}, err
	}
	return id, payload, opts, nil
}

func cmdValidate(args []string, out io.Writer) error {
	p := newPayloadFlags("validate")
	id, payload, opts, err := p.parse(args)
	if err != nil {
		return err
	}
	n, err := codec.NewValidator(registry(*p.events), opts).Validate(id, payload)
	if err != nil {
		fmt.Fprintf(out, "invalid: %s\n", codec.Reason(err))
		return err
	}
	fmt.Fprintf(out, "ok: %d attributes\n", n)
	return nil
}

func cmdAdapt(args []string, out io.Writer) error {
	p := newPayloadFlags("adapt")
	id, payload, opts, err := p.parse(args)
	if err != nil {
		return err
	}
	reg := registry(*p.events)
	block, err := codec.NewAdapter(reg, opts, nil).Adapt(id, payload)
	if err != nil {
		fmt.Fprintf(out, "rejected: %s\n", codec.Reason(err))
		return err
	}
	defer block.Release()

	entry, _ := reg.Lookup(id)
	fmt.Fprintf(out, "%s present=%d/%d owned=%d\n", entry.Name, block.Present, len(entry.Attributes), block.OwnedBytes())
	for i, f := range block.Fields {
		attr := entry.Attributes[i]
		if !f.Present {
			fmt.Fprintf(out, "  [%d] %s absent\n", i, attr.Name)
			continue
		}
		fmt.Fprintf(out, "  [%d] %s count=%d elem=%d owned=%v %s\n",
			i, attr.Name, f.Count, f.ElemSize, f.Owned, hex.EncodeToString(f.Data))
	}
	return nil
}

func cmdNegotiate(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("negotiate", pflag.ContinueOnError)
	remoteRaw := fs.StringP("remote", "r", "", "remote version major.minor[.build]")
	localRaw := fs.StringP("local", "l", "", "override the local version")
	cfgPath := fs.StringP("config", "c", "", "config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	local := cfg.Host.Local
	if *localRaw != "" {
		if local, err = abi.ParseVersion(*localRaw); err != nil {
			return err
		}
	}
	remote, err := abi.ParseVersion(*remoteRaw)
	if err != nil {
		return err
	}
	res := abi.Negotiate(local, remote, cfg.Host.Whitelist)
	fmt.Fprintf(out, "compatible=%v reason=%s effective=%d.%d reached=%d.%d\n",
		res.Compatible, res.Reason, res.Effective.Major, res.Effective.Minor, res.Reached.Major, res.Reached.Minor)
	return nil
}

func cmdHandshake(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("handshake", pflag.ContinueOnError)
	fwRaw := fs.StringP("firmware", "f", "", "firmware version major.minor[.build] (defaults to local)")
	timeout := fs.Duration("timeout", 2*time.Second, "handshake timeout")
	stream := fs.Bool("stream", false, "exchange length-prefixed frames with the peer over a pipe")
	cfgPath := fs.StringP("config", "c", "", "config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	fw := cfg.Host.Local
	if *fwRaw != "" {
		if fw, err = abi.ParseVersion(*fwRaw); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	lb := wmi.NewLoopback(fw, fw.Build)
	var host *wmi.Host
	var wg sync.WaitGroup
	if *stream {
		host, err = streamPeer(runCtx, cfg, lb, &wg, stop)
	} else {
		host, err = wmi.NewHost(cfg.Host, lb, nil)
		if err == nil {
			lb.Attach(host)
		}
	}
	if err != nil {
		return err
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = host.Run(runCtx)
	}()
	defer func() {
		stop()
		wg.Wait()
	}()

	if err := lb.Boot(); err != nil {
		return err
	}
	res, err := host.Handshake().Wait(ctx)
	fmt.Fprintf(out, "state=%s reason=%s effective=%d.%d\n",
		host.Handshake().State(), res.Reason, res.Effective.Major, res.Effective.Minor)
	return err
}

// streamPeer connects a host to lb through two pipes carrying framed
// bytes. The pipes close once ctx is done.
func streamPeer(ctx context.Context, cfg config.Config, lb *wmi.Loopback, wg *sync.WaitGroup, stop func()) (*wmi.Host, error) {
	hostR, fwW := io.Pipe()
	fwR, hostW := io.Pipe()

	host, err := wmi.NewHost(cfg.Host, session.NewStreamTransport(hostW, cfg.Frame), nil)
	if err != nil {
		return nil, err
	}
	lb.AttachStream(fwW, cfg.Frame)

	wg.Add(3)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		hostR.Close()
		fwR.Close()
		hostW.Close()
		fwW.Close()
	}()
	go func() {
		defer wg.Done()
		if err := session.NewStreamReader(hostR, cfg.Frame, host.Receiver()).Run(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("wmictl host stream ended")
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		if err := lb.Serve(ctx, fwR, cfg.Frame); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("wmictl firmware stream ended")
			stop()
		}
	}()
	return host, nil
}

func cmdConfigGen(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("configgen", pflag.ContinueOnError)
	output := fs.StringP("output", "o", "", "write the template here instead of stdout")
	force := fs.Bool("force", false, "overwrite an existing file")
	validate := fs.String("validate", "", "validate an existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *validate != "" {
		if _, err := config.LoadFile(*validate); err != nil {
			return err
		}
		fmt.Fprintf(out, "valid: %s\n", *validate)
		return nil
	}
	if *output == "" {
		_, err := io.WriteString(out, config.Template())
		return err
	}
	if err := config.WriteTemplate(*output, *force); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s\n", *output)
	return nil
}
