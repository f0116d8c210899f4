package main

import (
	"fmt"
	"io"
	"os"

	"github.com/danmuck/wmitlv/internal/logging"
	"github.com/rs/zerolog/log"
)

const usage = `usage: wmictl <command> [flags]

commands:
  schema      print the compiled command or event registry
  validate    validate a hex TLV payload against a message schema
  adapt       adapt a hex TLV payload and print the host view
  negotiate   negotiate the local ABI against a remote version
  handshake   run a full bring-up against an in-process firmware peer
              (--stream exchanges framed bytes over a pipe)
  configgen   write a config template
`

func main() {
	logging.ConfigureRuntime("wmictl")
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Error().Err(err).Msg("wmictl failed")
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return fmt.Errorf("missing command")
	}
	switch args[0] {
	case "schema":
		return cmdSchema(args[1:], out)
	case "validate":
		return cmdValidate(args[1:], out)
	case "adapt":
		return cmdAdapt(args[1:], out)
	case "negotiate":
		return cmdNegotiate(args[1:], out)
	case "handshake":
		return cmdHandshake(args[1:], out)
	case "configgen":
		return cmdConfigGen(args[1:], out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}
