// mhtool is a CLI utility for evaluating parametric human characters.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Faultbox/mhcore/internal/config"
	"github.com/Faultbox/mhcore/internal/logger"
)

func main() {
	// Parse global flags first; the command and its flags follow them
	config.ParseFlags()
	args := config.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logOptions(cfg.Logging)); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Sugar.Debugf("Config: %+v", cfg)

	command, rest := args[0], args[1:]
	switch command {
	case "info":
		err = cmdInfo(cfg, rest)
	case "modifiers", "mods":
		err = cmdModifiers(cfg, rest)
	case "targets":
		err = cmdTargets(cfg, rest)
	case "eval":
		err = cmdEval(cfg, rest)
	case "config":
		err = cmdConfig(cfg, rest)
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		logger.Log.Error(command+" failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

// logOptions sends console logs to stderr; stdout carries command output.
func logOptions(l config.LoggingConfig) logger.Options {
	opts := logger.Options{Level: l.Level, Console: zapcore.Lock(os.Stderr)}
	if l.LogFile != "" {
		opts.File = logger.FileConfig{
			Path:       l.LogFile,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDays: l.MaxAgeDays,
			Compress:   l.Compress,
		}
	}
	return opts
}

func printUsage() {
	fmt.Println(`mhtool - parametric human evaluation utility

Usage:
  mhtool [global options] <command> [options]

Global options:
  -config <file>   Config file (default ./config.yaml or the user config dir)
  -data <dir>      Data root directory
  -workers <n>     Worker goroutines for parallel passes
  -strict          Fail on any problem while loading saved state
  -debug           Enable debug logging
  -log <file>      Also log to a rotating file

Commands:
  info                         Show base mesh, modifier and asset summary
  modifiers [-group g]         List modifiers with ranges and dependencies
  targets [-compile] [pattern] List target files, optionally compiling caches
  eval [options]               Evaluate a character and export it
  config [-o file]             Write the effective config (default: user config dir)

Eval options:
  -load <file.mhm>             Start from saved state
  -set <name=value>            Set a modifier (repeatable)
  -symmetry left|right         Copy one side onto the other
  -proxy <type:name>           Bind a proxy by slot and name (repeatable)
  -skeleton <ref>              Attach a skeleton ("default" uses the config)
  -pose <ref> -frame <n>       Pose the skeleton
  -posed -hide -scale <f>      Export posed, masked or scaled buffers
  -o <file.obj|file.glb>       Export the evaluated meshes
  -save <file.mhm>             Save the resulting state

Examples:
  mhtool info
  mhtool modifiers -group torso
  mhtool targets -compile "measure/*"
  mhtool eval -set macrodetails/Gender=1 -set 'torso/torso-scale-depth-decr|incr=0.4' -o out.glb
  mhtool -strict eval -load model.mhm -skeleton default -pose poses/wave.bvh -posed -o posed.obj`)
}
