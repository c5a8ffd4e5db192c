package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/itohio/godispense/pkg/port"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List available serial ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := port.Ports()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(ports) == 0 {
			fmt.Fprintln(out, "No serial ports found")
			return nil
		}
		for _, p := range ports {
			fmt.Fprintln(out, p.Description)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
