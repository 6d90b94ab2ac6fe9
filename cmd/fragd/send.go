package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sheerbytes/fragd/internal/config"
	"github.com/sheerbytes/fragd/internal/logging"
	"github.com/sheerbytes/fragd/internal/sender"
)

func newSendCmd() *cobra.Command {
	var cfg *config.SendConfig
	cmd := &cobra.Command{
		Use:   "send FILE",
		Short: "send a file to a fragd receiver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := logging.New("fragd-send", cfg.LogLevel)
			res, err := sender.Send(cmd.Context(), sender.Config{
				Server:           cfg.Server,
				File:             args[0],
				RemoteName:       cfg.RemoteName,
				RemoteDir:        cfg.RemoteDir,
				BodySize:         cfg.BodySize,
				Passes:           cfg.Passes,
				HandshakeTimeout: cfg.HandshakeTimeout,
				HandshakeRetries: cfg.HandshakeRetries,
				Pace:             cfg.Pace,
				Logger:           logger,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s: %d fragments, %d datagrams, %d bytes, md5 %s\n",
				args[0], res.Fragments, res.Sent, res.Bytes, res.FileMD5)
			return nil
		},
	}
	cfg = config.BindSendFlags(cmd.Flags())
	return cmd
}
