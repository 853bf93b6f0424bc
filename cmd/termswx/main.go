/*
 * termswx: serial terminal switch
 * Copyright 2019 Daniel Selifonov
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Command termswx is the serial terminal switch: it bridges a local
// console to a serial device or TCP backend, optionally fanning the
// stream out to a network fleet and a scripted helper process.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/StonyBoy/termswx/internal/config"
	"github.com/StonyBoy/termswx/internal/console"
	"github.com/StonyBoy/termswx/internal/logging"
	"github.com/StonyBoy/termswx/internal/netio"
	"github.com/StonyBoy/termswx/internal/scriptrunner"
	"github.com/StonyBoy/termswx/internal/serialio"
	"github.com/StonyBoy/termswx/internal/switchcore"
)

const version = "termswx 1.0.0"

func main() {
	start := time.Now()

	var (
		baudRate    uint32
		portNum     uint16
		maxClients  int8
		serverMode  bool
		keepRunning bool
		verbosity   int
		tracePath   string
		enumerate   bool
		showVersion bool
	)

	flags := pflag.NewFlagSet("termswx", pflag.ExitOnError)
	flags.Uint32VarP(&baudRate, "baudrate", "b", 115200, "serial baud rate")
	flags.Uint16VarP(&portNum, "portnum", "p", 0, "run a listener on this port (0 disables it)")
	flags.Int8VarP(&maxClients, "maxclients", "m", 1, "fleet cap when -p is given")
	flags.BoolVarP(&serverMode, "server", "s", false, "silent-server mode (requires -p)")
	flags.BoolVarP(&keepRunning, "keeprunning", "k", false, "serial reconnect loop")
	flags.CountVarP(&verbosity, "verbose", "v", "increase log verbosity (repeatable)")
	flags.StringVarP(&tracePath, "trace", "t", "/tmp/termswx_trace.log", "log file")
	flags.BoolVarP(&enumerate, "enumerate", "e", false, "list serial ports and exit")
	flags.BoolVarP(&showVersion, "version", "V", false, "print version and exit")
	flags.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}
	if enumerate {
		ports, err := serialio.Enumerate()
		if err != nil {
			fmt.Fprintf(os.Stderr, "enumeration failed: %v\n", err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	args := flags.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: termswx [flags] DEVICE|HOST:PORT")
		os.Exit(1)
	}
	target := args[0]
	isNetworkBackend := strings.Contains(target, ":")

	var con *console.Endpoint
	terminate := func(msg string) {
		if con != nil {
			con.Restore()
		}
		fmt.Fprintf(os.Stderr, "\x1b[31mTermSWX completed after %.0fs: %s\x1b[0m\n", time.Since(start).Seconds(), msg)
		os.Exit(1)
	}

	log, err := logging.New(tracePath, verbosity)
	if err != nil {
		terminate(fmt.Sprintf("could not open trace file %s: %v", tracePath, err))
		return
	}

	confPath, err := config.DefaultConfigPath()
	if err != nil {
		terminate(err.Error())
		return
	}
	cfg := config.Load(confPath, terminate)

	sw := switchcore.New(portNum != 0, log)

	info := console.Info{
		Version:    version,
		Port:       portNum,
		Device:     target,
		MaxClients: int(maxClients),
		TracePath:  tracePath,
		ConfigPath: confPath,
		Start:      start,
	}
	con = console.New(sw, cfg, serverMode, info, log)
	if err := con.EnterRaw(); err != nil {
		terminate(err.Error())
		return
	}
	defer con.Restore()
	con.Banner()

	inPrompt := con.InPromptFlag()
	con.RunScript = func(argline string, withoutRaw func(func())) {
		size := "80x24"
		if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			size = fmt.Sprintf("%dx%d", w, h)
		}
		go scriptrunner.Start(sw, cfg.Python(), argline, cfg.Environment(), size, target, baudRate, inPrompt, withoutRaw, log)
	}

	go con.OutputLoop()

	if isNetworkBackend {
		go func() {
			if err := netio.DialBackend(sw, target, log); err != nil {
				terminate(err.Error())
			}
			terminate(fmt.Sprintf("connection to %s closed", target))
		}()
	} else {
		ep := serialio.New(sw, target, baudRate, keepRunning, log)
		go func() {
			ep.Run()
			terminate(fmt.Sprintf("connection to %s closed", target))
		}()
	}

	if portNum != 0 {
		srv := netio.NewServer(sw, int(maxClients), log)
		go func() {
			if err := srv.Run(portNum); err != nil {
				color.New(color.FgRed).Fprintf(os.Stderr, "listener failed: %v\n", err)
				log.Error().Err(err).Msg("listener failed")
			}
		}()
	}

	con.ReadLoop()
	con.Restore()
	fmt.Printf("TermSWX completed after %.0fs\n", time.Since(start).Seconds())
}
