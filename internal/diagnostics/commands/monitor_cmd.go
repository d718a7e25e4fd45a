/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	cmds "github.com/aspnet/AspLabs-sub007/internal/commands"
	"github.com/aspnet/AspLabs-sub007/internal/diagnostics"
	"github.com/aspnet/AspLabs-sub007/internal/eventsource"
	"github.com/aspnet/AspLabs-sub007/internal/protocol"
	"github.com/aspnet/AspLabs-sub007/pkg/osutil"
)

type monitorFlags struct {
	address        string
	providers      []string
	providersFile  string
	connectTimeout time.Duration
}

func NewMonitorCommand(log logr.Logger) (*cobra.Command, error) {
	flags := &monitorFlags{}

	monitorCmd := &cobra.Command{
		Use:   "monitor --address uri [--provider Name[:level[:keywords]]]... [--providers-file file] [--connect-timeout duration]",
		Short: "Connects to a diagnostic server and prints the events it streams",
		Long: `Connects to a diagnostic server and prints the events it streams.

		Every message received from the server is written to standard output as a single line of JSON.
		Event sources are enabled with --provider flags, or with a YAML file that has a "providers" list
		(each item has a name and optional level, keywords and arguments).
		The command runs until it is interrupted or the server closes the connection.`,
		RunE: runMonitor(log, flags),
		Args: cobra.NoArgs,
	}

	monitorCmd.Flags().StringVar(&flags.address, "address", osutil.EnvVarStringWithDefault(diagnostics.DIAGNOSTICS_SERVER_ADDRESS, ""), "The connection URI of the diagnostic server, for example process://1234 or tcp://localhost:5000.")
	monitorCmd.Flags().StringArrayVar(&flags.providers, "provider", nil, "Event source to enable, as Name[:level[:keywords]]. Can be repeated.")
	monitorCmd.Flags().StringVar(&flags.providersFile, "providers-file", "", "YAML file with event sources to enable.")
	monitorCmd.Flags().DurationVar(&flags.connectTimeout, "connect-timeout", osutil.EnvVarDurationValWithDefault(diagnostics.DIAGNOSTICS_CONNECT_TIMEOUT, 0), "How long to keep trying to connect while the server is not reachable. Zero means a single attempt.")

	if err := monitorCmd.MarkFlagFilename("providers-file", "yaml", "yml"); err != nil {
		return nil, err
	}

	return monitorCmd, nil
}

func runMonitor(log logr.Logger, flags *monitorFlags) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		log = log.WithName("monitor")
		ctx := cmd.Context()

		if flags.address == "" {
			return fmt.Errorf("the server address must be set with --address or the %s environment variable", diagnostics.DIAGNOSTICS_SERVER_ADDRESS)
		}

		reqs, reqsErr := flags.enableRequests()
		if reqsErr != nil {
			log.Error(reqsErr, "Invocation parameters are invalid")
			return reqsErr
		}

		config := diagnostics.DefaultClientConfig()
		config.ConnectTimeout = flags.connectTimeout
		client, connectErr := diagnostics.Connect(ctx, flags.address, config, log)
		if connectErr != nil {
			log.Error(connectErr, "Could not connect to the diagnostic server", "Address", flags.address)
			return connectErr
		}
		defer client.Close()

		if enableErr := client.EnableEvents(reqs...); enableErr != nil {
			return enableErr
		}
		log.V(1).Info("Monitoring", "Address", flags.address, "Providers", len(reqs))

		out := cmd.OutOrStdout()
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-client.Messages():
				if !ok {
					if clientErr := client.Err(); clientErr != nil {
						log.Error(clientErr, "Diagnostic connection failed")
						return clientErr
					}
					log.Info("Diagnostic server closed the connection")
					return nil
				}
				if writeErr := writeMessageLine(out, msg); writeErr != nil {
					return writeErr
				}
			}
		}
	}
}

func (mf *monitorFlags) enableRequests() ([]protocol.EnableRequest, error) {
	var reqs []protocol.EnableRequest
	for _, p := range mf.providers {
		req, parseErr := parseProviderFlag(p)
		if parseErr != nil {
			return nil, parseErr
		}
		reqs = append(reqs, req)
	}

	if mf.providersFile != "" {
		fileReqs, loadErr := loadProvidersFile(mf.providersFile)
		if loadErr != nil {
			return nil, loadErr
		}
		reqs = append(reqs, fileReqs...)
	}

	return reqs, nil
}

type sourceLine struct {
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	ID       string `json:"id"`
	Level    string `json:"level"`
	Keywords string `json:"keywords"`
}

type eventLine struct {
	Kind      string      `json:"kind"`
	Source    string      `json:"source"`
	EventID   int32       `json:"eventId"`
	EventName string      `json:"eventName,omitempty"`
	Level     string      `json:"level"`
	Keywords  string      `json:"keywords"`
	Timestamp *time.Time  `json:"timestamp,omitempty"`
	Fields    []fieldLine `json:"fields,omitempty"`
}

type fieldLine struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func writeMessageLine(w io.Writer, msg protocol.Message) error {
	var line any
	switch m := msg.(type) {
	case *protocol.SourceCreated:
		line = sourceLine{
			Kind:     m.Kind().String(),
			Name:     m.Name,
			ID:       m.ID.String(),
			Level:    eventsource.Level(m.Level).String(),
			Keywords: eventsource.Keywords(m.Keywords).String(),
		}
	case *protocol.EventWritten:
		el := eventLine{
			Kind:      m.Kind().String(),
			Source:    m.Source,
			EventID:   m.EventID,
			EventName: m.EventName,
			Level:     eventsource.Level(m.Level).String(),
			Keywords:  eventsource.Keywords(m.Keywords).String(),
		}
		for _, f := range m.Fields {
			el.Fields = append(el.Fields, fieldLine{Name: f.Name, Value: f.Value})
		}
		if !m.Timestamp.IsZero() {
			ts := m.Timestamp.UTC()
			el.Timestamp = &ts
		}
		line = el
	default:
		return errors.New("unexpected message from the diagnostic server: " + msg.Kind().String())
	}

	data, marshalErr := json.Marshal(line)
	if marshalErr != nil {
		return marshalErr
	}
	_, writeErr := w.Write(cmds.WithNewline(data))
	return writeErr
}
