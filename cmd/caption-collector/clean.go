package main

import (
	"fmt"
	"io"

	"github.com/fankserver/caption-collector/internal/textproc"
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove repeated words, phrases and sentences from text on stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), textproc.RemoveRepetitions(string(data)))
		return err
	},
}
