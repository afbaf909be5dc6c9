package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/aerotoad/neboa"
	"github.com/aerotoad/neboa/cmd/neboash/commands"
	"github.com/aerotoad/neboa/cmd/neboash/parser"
	"github.com/aerotoad/neboa/cmd/neboash/shell"
	"github.com/aerotoad/neboa/internal/config"
)

const historyFile = ".neboash_history"

var commandNames = []string{
	".help", ".exit", ".use", ".collections", ".insert", ".get", ".find", ".count",
	".update", ".delete", ".drop", ".rename", ".watch", ".unwatch", ".subs", ".pretty",
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.DefaultConfig()
	var collection string

	cmd := &cobra.Command{
		Use:          "neboash [database]",
		Short:        "Interactive shell for neboa databases",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return config.Load(config.EnvPrefix, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				cfg.Path = args[0]
			}
			return run(cfg, collection)
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "collection to start in")
	return cmd
}

func run(cfg *config.Config, collection string) error {
	db, err := neboa.Open(cfg.Path, cfg.DBOptions())
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", cfg.Path, err)
	}
	sh := shell.NewShell(db, os.Stdout)
	defer sh.Close()

	if collection != "" {
		if res := sh.Run(".use " + collection); isError(res) {
			res.Print(os.Stderr)
			return fmt.Errorf("failed to use collection %s", collection)
		}
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(l string) []string {
		var out []string
		for _, c := range commandNames {
			if strings.HasPrefix(c, l) {
				out = append(out, c)
			}
		}
		return out
	})

	history := historyPath()
	if f, err := os.Open(history); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(history); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Printf("Neboa Shell, database %s\n", cfg.Path)
	fmt.Printf("Type '.help' for commands.\n\n")

	for {
		input, err := line.Prompt(sh.Prompt())
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return fmt.Errorf("error reading input: %w", err)
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		cmd, err := parser.Parse(input)
		if err != nil {
			fmt.Fprintln(os.Stdout, "ERROR")
			fmt.Fprintln(os.Stdout, err.Error())
			fmt.Println()
			continue
		}

		result := sh.Execute(cmd)
		if result.IsExit() {
			return nil
		}
		result.Print(os.Stdout)
		fmt.Println()
	}
}

func isError(res commands.Result) bool {
	_, failed := res.(commands.ErrorResult)
	return failed
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return historyFile
	}
	return filepath.Join(home, historyFile)
}
