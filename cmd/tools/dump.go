package tools

import (
	"fmt"
	"os"

	"github.com/dmolina/escarabajo/pkg/utils"
	"github.com/dmolina/escarabajo/pkg/vm/asm"
	"github.com/dmolina/escarabajo/pkg/vm/debuginfo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var debugInfoPath string

// programDump is the YAML shape of a dumped program file.
type programDump struct {
	Instructions []string       `yaml:"instructions"`
	Data         []int64        `yaml:"data,omitempty"`
	Lines        map[int]uint64 `yaml:"lines,omitempty"`
	Functions    []functionDump `yaml:"functions,omitempty"`
}

type functionDump struct {
	Name      string `yaml:"name"`
	BeginAddr uint64 `yaml:"begin_addr"`
	EndAddr   uint64 `yaml:"end_addr"`
}

// DumpCmd parses a program file and prints its content as YAML.
var DumpCmd = &cobra.Command{
	Use:   "dump <program.e86>",
	Short: "Parse a program file and dump its content as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDump(args[0], debugInfoPath)
	},
}

func init() {
	DumpCmd.Flags().StringVar(&debugInfoPath, "debug-info", "", "debug info file to include in the dump")
}

func runDump(programPath, debugInfoPath string) error {
	f, err := os.Open(programPath)
	if err != nil {
		return err
	}
	defer f.Close()

	parser, err := asm.NewParser(f)
	if err != nil {
		return err
	}
	program, err := parser.Parse()
	if err != nil {
		return err
	}

	dump := programDump{
		Instructions: utils.Map(program.Instructions, func(ins asm.Instruction) string {
			return ins.String()
		}),
		Data: program.Data,
	}

	if debugInfoPath != "" {
		if err := addDebugInfo(&dump, debugInfoPath); err != nil {
			return err
		}
	}

	out, err := yaml.Marshal(&dump)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func addDebugInfo(dump *programDump, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	parser, err := debuginfo.NewParser(f)
	if err != nil {
		return err
	}
	info, err := parser.Parse()
	if err != nil {
		return err
	}

	if info.LineMapping != nil {
		dump.Lines = make(map[int]uint64)
		for addr := uint64(0); addr < uint64(len(dump.Instructions)); addr++ {
			for _, line := range info.LineMapping.Lines(addr) {
				dump.Lines[line] = addr
			}
		}
	}
	if info.TopDIE != nil {
		for _, die := range info.TopDIE.Children {
			if die.Tag != debuginfo.TagFunction {
				continue
			}
			if die.Attrs.Name == nil || die.Attrs.BeginAddr == nil || die.Attrs.EndAddr == nil {
				continue
			}
			dump.Functions = append(dump.Functions, functionDump{
				Name:      *die.Attrs.Name,
				BeginAddr: *die.Attrs.BeginAddr,
				EndAddr:   *die.Attrs.EndAddr,
			})
		}
	}
	return nil
}
