// cli.go - command-line front end: CONFIG INPUT OUTPUT positional
// arguments plus --quiet/-v verbosity, hand-rolled with the standard
// library flag package rather than a CLI framework, matching how the
// teacher compiler's main.go parses its (differently-shaped) flags.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/xyproto/env/v2"
)

const usage = `usage: xbld [--quiet] [-v...] CONFIG INPUT OUTPUT

  CONFIG   TOML configuration naming modfiles and patches
  INPUT    base XBE to link against
  OUTPUT   path to write the linked XBE to
`

// verbosityFlag implements flag.Value so repeated -v flags accumulate,
// the same "-v..." surface named in the external-interfaces contract.
type verbosityFlag int

func (v *verbosityFlag) String() string { return fmt.Sprintf("%d", int(*v)) }
func (v *verbosityFlag) Set(string) error {
	*v++
	return nil
}
func (v *verbosityFlag) IsBoolFlag() bool { return true }

// Run parses args (excluding the program name) and executes one link,
// returning the process exit code.
func Run(args []string, stderr *os.File) int {
	fs := flag.NewFlagSet("xbld", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }

	quiet := fs.Bool("quiet", env.Bool("XBLD_QUIET", false), "suppress all but error output")
	verbosity := verbosityFlag(env.Int("XBLD_VERBOSITY", 0))
	fs.Var(&verbosity, "v", "increase verbosity (repeatable)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 3 {
		fs.Usage()
		return 2
	}

	configPath, inputPath, outputPath := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	logger := NewLogger(stderr, levelForVerbosity(*quiet, int(verbosity)))

	if err := runLink(configPath, inputPath, outputPath, logger); err != nil {
		logger.logger().Error().Msg(err.Error())
		return 1
	}
	return 0
}

func runLink(configPath, inputPath, outputPath string, logger *Logger) error {
	cfg, err := LoadConfiguration(configPath)
	if err != nil {
		return err
	}

	inputBytes, err := os.ReadFile(inputPath)
	if err != nil {
		return ioError(inputPath, err)
	}
	base, err := LoadXbe(inputBytes)
	if err != nil {
		return err
	}

	if _, err := Link(context.Background(), base, cfg, logger); err != nil {
		return err
	}

	out, err := base.Serialize()
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, out, 0o644); err != nil {
		return ioError(outputPath, err)
	}
	logger.Infof("wrote %s", outputPath)
	return nil
}
