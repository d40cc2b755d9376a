package cmd

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/config"
)

// RunConfig handles `config` subcommands.
func RunConfig(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s config init [-o file] [-force] | config diff FILE [FILE]", brand.BinaryName)
	}
	switch args[0] {
	case "init":
		return runConfigInit(args[1:])
	case "diff":
		return runConfigDiff(args[1:])
	default:
		return fmt.Errorf("unknown config command %q", args[0])
	}
}

func runConfigInit(args []string) error {
	fs := flag.NewFlagSet("config init", flag.ContinueOnError)
	output := fs.String("o", "", "Write to this file instead of stdout")
	force := fs.Bool("force", false, "Overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *output == "" {
		_, err := stdout.Write(config.GenerateHCL(cfg))
		return err
	}

	if _, err := os.Stat(*output); err == nil && !*force {
		return fmt.Errorf("%s already exists (use -force to overwrite)", *output)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := config.SaveHCL(cfg, *output); err != nil {
		return err
	}
	printf("Wrote %s\n", *output)
	return nil
}

// ErrConfigDiffers is returned by `config diff` when the files differ.
var ErrConfigDiffers = errors.New("configurations differ")

// runConfigDiff compares the effective settings of two config files, or of
// one file against the built-in defaults. Both sides are normalized first,
// so formatting and omitted defaults do not show up.
func runConfigDiff(args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return fmt.Errorf("usage: %s config diff FILE [FILE]", brand.BinaryName)
	}

	fromName, from := "defaults", config.Default()
	toName := args[0]
	if len(args) == 2 {
		fromName, toName = args[0], args[1]
		var err error
		if from, err = config.LoadFile(fromName); err != nil {
			return err
		}
	}
	to, err := config.LoadFile(toName)
	if err != nil {
		return err
	}

	a, b := string(config.GenerateHCL(from)), string(config.GenerateHCL(to))
	if a == b {
		printf("No changes detected.\n")
		return nil
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: fromName,
		ToFile:   toName,
		Context:  3,
	})
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, text)
	return ErrConfigDiffers
}
