package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/synthread/go-an3155/flash"
	"github.com/synthread/go-an3155/internal/config"
	"github.com/synthread/go-an3155/internal/monitor"
)

type app struct {
	cfg *config.Config
	log *logrus.Logger
	mon *monitor.Monitor

	fc *flash.Config
	mc *flash.Microcontroller

	out      io.Writer
	progress flash.Hook
}

func newApp(cfg *config.Config, log *logrus.Logger) (*app, error) {
	a := &app{
		cfg: cfg,
		log: log,
		mon: monitor.New(log),
		out: os.Stdout,
	}

	a.fc = cfg.FlashConfig()
	a.fc.Hook = flash.Hooks(flash.LogHook(log), a.mon.Hook(), a.onProgress)

	mc, err := flash.NewMicrocontroller(a.fc)
	if err != nil {
		return nil, err
	}
	a.mc = mc

	return a, nil
}

func (a *app) onProgress(e flash.Event) {
	if a.progress != nil {
		a.progress(e)
	}
}

func (a *app) run(args []string) error {
	cmd := "info"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "info":
		return a.runInfo()
	case "flash":
		return a.runFlash(args)
	case "erase":
		return a.runErase(args)
	case "go":
		return a.runGo(args)
	}
	return errors.Errorf("unknown command %q", cmd)
}

// finish releases the GPIO lines and writes out the metrics
func (a *app) finish() {
	a.mc.Release()

	if a.cfg.Metrics.Textfile != "" {
		if err := a.mon.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
			a.log.Warnf("could not write metrics: %v", err)
		}
	}
}

func (a *app) runInfo() error {
	info, err := a.mc.Info()
	if err != nil {
		return errors.Wrap(err, "could not read bootloader info")
	}
	printInfo(a.out, info)
	return nil
}

func printInfo(w io.Writer, info *flash.Info) {
	names := make([]string, 0, len(info.Commands))
	for _, c := range info.Commands {
		names = append(names, c.String())
	}

	fmt.Fprintf(w, "Product ID: 0x%04X\n", info.ProductID)
	fmt.Fprintf(w, "Bootloader version: %s\n", info.Version)
	fmt.Fprintf(w, "Protocol version: %s\n", info.ProtocolVersion)
	fmt.Fprintf(w, "Available commands: %s\n", strings.Join(names, ", "))
}

func (a *app) runFlash(args []string) error {
	fs := flag.NewFlagSet("flash", flag.ContinueOnError)
	address := fs.String("address", fmt.Sprintf("0x%08X", a.cfg.Flash.BaseAddress), "address to write the image to")
	skipVerify := fs.Bool("skip-verify", a.cfg.Flash.SkipVerify, "don't read back written chunks")
	noProgress := fs.Bool("no-progress", false, "don't draw a progress bar")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("flash needs exactly one firmware file")
	}

	addr, err := parseAddress(*address)
	if err != nil {
		return err
	}

	file := fs.Arg(0)
	image, err := os.ReadFile(file)
	if err != nil {
		return errors.Wrap(err, "could not read firmware")
	}
	a.fc.SkipVerify = *skipVerify

	a.log.Infof("flashing %s (%d bytes) to 0x%08X", file, len(image), addr)

	if !*noProgress {
		bar := newProgressBar(len(image), *skipVerify)
		a.progress = func(e flash.Event) {
			if e.Kind == flash.EventChunkWritten {
				bar.Add(e.Length)
			}
		}
		defer func() {
			bar.Finish()
			a.progress = nil
		}()
	}

	start := time.Now()
	err = a.mc.FlashPayload(image, addr)
	a.mon.ObserveFlash(time.Since(start), err)
	if err != nil {
		return errors.Wrap(err, "flash failed")
	}

	a.log.Infof("flashed %d bytes in %s", len(image), time.Since(start).Round(time.Millisecond))
	return nil
}

func newProgressBar(total int, skipVerify bool) *progressbar.ProgressBar {
	desc := "Writing+verifying"
	if skipVerify {
		desc = "Writing"
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowBytes(true),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
	)
}

func (a *app) runErase(args []string) error {
	fs := flag.NewFlagSet("erase", flag.ContinueOnError)
	bankName := fs.String("bank", "global", "global, bank1 or bank2")
	if err := fs.Parse(args); err != nil {
		return err
	}

	bank, err := parseBank(*bankName)
	if err != nil {
		return err
	}

	a.log.Infof("erasing %s", bank)
	return errors.Wrap(a.mc.Erase(bank), "erase failed")
}

func (a *app) runGo(args []string) error {
	fs := flag.NewFlagSet("go", flag.ContinueOnError)
	address := fs.String("address", fmt.Sprintf("0x%08X", a.cfg.Flash.BaseAddress), "address to jump to")
	if err := fs.Parse(args); err != nil {
		return err
	}

	addr, err := parseAddress(*address)
	if err != nil {
		return err
	}

	a.log.Infof("jumping to 0x%08X", addr)
	return errors.Wrap(a.mc.Go(addr), "go failed")
}

// parseAddress reads a hexadecimal address with or without the 0x prefix
func parseAddress(s string) (uint32, error) {
	h := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "unable to parse address %q", s)
	}
	return uint32(v), nil
}

func parseBank(s string) (flash.BankErase, error) {
	switch strings.ToLower(s) {
	case "global", "all":
		return flash.BankGlobal, nil
	case "bank1", "1":
		return flash.Bank1, nil
	case "bank2", "2":
		return flash.Bank2, nil
	}
	return 0, errors.Errorf("unknown bank %q", s)
}
